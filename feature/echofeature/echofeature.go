// Package echofeature is a reference Feature (spec §4.F) exercising the
// registry end to end: it answers "initialize" with a fixed server info
// and the latest protocol version, tracks "notifications/initialized" per
// session, and implements a single "echo" tool reachable via "tools/call".
//
// It exists only to give the engine something to dispatch to in tests and
// the example binary; it is not a real tool catalog (spec.md's Non-goals
// explicitly leave application semantics of MCP methods out of the core).
package echofeature

import (
	"fmt"
	"sync"

	json "github.com/segmentio/encoding/json"

	"github.com/relaymcp/relay/engine"
	"github.com/relaymcp/relay/session"
	"github.com/relaymcp/relay/wire"
)

// LatestProtocolVersion is echoed back on every initialize regardless of
// what the client requested (spec scenario 2: "negotiation falls back,
// not an error").
const LatestProtocolVersion = "2025-11-25"

// ServerInfo names this reference implementation.
var ServerInfo = map[string]string{"name": "mcp-example-server", "version": "0.1.0"}

// OnInitialized, if set, is called exactly once per session the first
// time that session sends notifications/initialized.
type Feature struct {
	OnInitialized func(sessionID string)

	mu          sync.Mutex
	initialized map[string]bool
}

// New returns a ready-to-register Feature.
func New() *Feature {
	return &Feature{initialized: make(map[string]bool)}
}

func (f *Feature) Initialize(reg engine.Registrar) error {
	if err := reg.RegisterHandler("initialize", f.handleInitialize); err != nil {
		return err
	}
	if err := reg.RegisterHandler("notifications/initialized", f.handleInitialized); err != nil {
		return err
	}
	if err := reg.RegisterHandler("tools/call", f.handleToolsCall); err != nil {
		return err
	}
	return nil
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      map[string]any `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string            `json:"protocolVersion"`
	Capabilities    map[string]any    `json:"capabilities"`
	ServerInfo      map[string]string `json:"serverInfo"`
}

func (f *Feature) handleInitialize(facade engine.Facade, msg *wire.Request, hctx engine.HandlerContext, info engine.RequestInfo) (any, error) {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid initialize params: %w", err)
		}
	}
	if hctx.Session != nil {
		hctx.Session.SetMeta(session.Metadata{
			ProtocolVersion:    LatestProtocolVersion,
			ClientInfo:         params.ClientInfo,
			ClientCapabilities: params.Capabilities,
			ServerInfo:         ServerInfo,
		})
		_ = hctx.Session.Transition(session.StateInitialized)
	}
	return initializeResult{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    map[string]any{},
		ServerInfo:      ServerInfo,
	}, nil
}

func (f *Feature) handleInitialized(facade engine.Facade, msg *wire.Request, hctx engine.HandlerContext, info engine.RequestInfo) (any, error) {
	if hctx.Session == nil {
		return nil, nil
	}
	f.mu.Lock()
	already := f.initialized[hctx.Session.ID]
	f.initialized[hctx.Session.ID] = true
	f.mu.Unlock()
	if !already && f.OnInitialized != nil {
		f.OnInitialized(hctx.Session.ID)
	}
	return nil, nil
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callToolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func (f *Feature) handleToolsCall(facade engine.Facade, msg *wire.Request, hctx engine.HandlerContext, info engine.RequestInfo) (any, error) {
	var params callToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}
	if params.Name != "echo" {
		return callToolResult{
			Content: []content{{Type: "text", Text: fmt.Sprintf("unknown tool %q", params.Name)}},
			IsError: true,
		}, nil
	}
	text, _ := params.Arguments["text"].(string)
	return callToolResult{Content: []content{{Type: "text", Text: text}}}, nil
}

