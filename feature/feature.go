// Package feature re-exports the engine's Feature/Registrar contract at a
// stable import path for feature implementations, matching how the
// official SDK's tool/resource/prompt registries are consumed from outside
// the core package (spec §4.F).
package feature

import "github.com/relaymcp/relay/engine"

type (
	Feature     = engine.Feature
	Registrar   = engine.Registrar
	HandlerFunc = engine.HandlerFunc
	Facade      = engine.Facade
)
