// Package idgen implements the id generator interface consumed by the core
// (spec §6.3): opaque strings, unique within the engine's lifetime, with
// optional prefix/suffix/length/format shaping.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Options shapes a single call to Generate. All fields are optional.
type Options struct {
	Prefix string
	Suffix string
	// Length, if nonzero, requests a fixed-width random-text id ignoring
	// Format. Useful for callers that need a short opaque token.
	Length int
	// Format selects the id flavor: "uuid" (default) or "text".
	Format string
}

// Generator mints ids unique within its own lifetime; the zero value is a
// ready-to-use uuid-backed generator.
type Generator struct{}

// Generate produces a new id honoring opts.
func (Generator) Generate(opts Options) string {
	var base string
	switch {
	case opts.Length > 0:
		base = randText(opts.Length)
	case opts.Format == "text":
		base = randText(16)
	default:
		base = uuid.NewString()
	}
	if opts.Prefix == "" && opts.Suffix == "" {
		return base
	}
	return opts.Prefix + base + opts.Suffix
}

// NewSessionID mints a session id, used by the transport's stateless
// fallback (§4.B) when no session store is configured.
func NewSessionID() string { return uuid.NewString() }

func randText(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; fall back to a uuid rather than panic.
		return uuid.NewString()
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
