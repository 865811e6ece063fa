package transport

import (
	"time"

	json "github.com/segmentio/encoding/json"

	"github.com/relaymcp/relay/session"
	"github.com/relaymcp/relay/wire"
)

// ResponseMode is the outcome of a response-mode policy (spec §4.D.3 step 6).
type ResponseMode string

const (
	ModeJSON ResponseMode = "json"
	ModeSSE  ResponseMode = "sse"
)

// ResponseModePolicy decides how a batch's response is delivered. The
// default (DefaultResponseModePolicy) is a pure function of the messages
// and session; deployments may override it (spec's design note
// "Response-mode policy as data").
type ResponseModePolicy func(msgs []wire.Message, sess *session.Session) ResponseMode

// streamingProneMethods is the default "streaming-prone" set (spec §4.D.3
// step 6): tool invocation, prompt retrieval, and sampling creation.
var streamingProneMethods = map[string]bool{
	"tools/call":             true,
	"prompts/get":            true,
	"sampling/createMessage": true,
}

// DefaultResponseModePolicy implements the default policy described in
// spec §4.D.3 step 6.
func DefaultResponseModePolicy(msgs []wire.Message, _ *session.Session) ResponseMode {
	for _, msg := range msgs {
		req, ok := msg.(*wire.Request)
		if !ok || !req.ID.IsValid() {
			continue
		}
		if streamingProneMethods[req.Method] {
			return ModeSSE
		}
		if hasProgressToken(req.Params) {
			return ModeSSE
		}
	}
	return ModeJSON
}

func hasProgressToken(params []byte) bool {
	if len(params) == 0 {
		return false
	}
	var body struct {
		Meta struct {
			ProgressToken any `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &body); err != nil {
		return false
	}
	return body.Meta.ProgressToken != nil
}

// Config mirrors spec.md §6.4's streamableHttp.* fields plus
// httpServer.endpoint and enforceStrictCapabilities (the remaining
// httpServer.* fields live one level up, in the gateway's config package,
// since they govern the HTTP server itself rather than MCP semantics).
type Config struct {
	Endpoint                  string
	ResponseTimeout           time.Duration
	ResponseModePolicy        ResponseModePolicy
	EnableBackgroundChannel   bool
	EnableSessionTermination  bool
	EnforceStrictCapabilities bool
}

// DefaultConfig returns spec.md §6.4's defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:                 "/mcp",
		ResponseTimeout:          30 * time.Second,
		ResponseModePolicy:       DefaultResponseModePolicy,
		EnableBackgroundChannel:  true,
		EnableSessionTermination: true,
	}
}
