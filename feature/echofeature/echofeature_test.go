package echofeature

import (
	"testing"

	json "github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"

	"github.com/relaymcp/relay/engine"
	"github.com/relaymcp/relay/session"
	"github.com/relaymcp/relay/wire"
)

func TestInitializeReturnsLatestProtocolVersionAndTransitionsSession(t *testing.T) {
	f := New()
	var reg testRegistrar
	require.NoError(t, f.Initialize(&reg))

	sess := session.New("sess-1")
	req := &wire.Request{ID: wire.StringID("1"), Method: "initialize", Params: json.RawMessage(`{"protocolVersion":"2024-01-01"}`)}
	hctx := engine.HandlerContext{Session: sess}

	result, err := reg.handlers["initialize"](nil, req, hctx, engine.RequestInfo{})
	require.NoError(t, err)

	ir, ok := result.(initializeResult)
	require.True(t, ok)
	require.Equal(t, LatestProtocolVersion, ir.ProtocolVersion)
	require.Equal(t, ServerInfo, ir.ServerInfo)
	require.Equal(t, session.StateInitialized, sess.State)
}

func TestNotificationsInitializedFiresOnInitializedOnce(t *testing.T) {
	f := New()
	var reg testRegistrar
	require.NoError(t, f.Initialize(&reg))

	var calls int
	f.OnInitialized = func(sessionID string) { calls++ }

	sess := session.New("sess-1")
	hctx := engine.HandlerContext{Session: sess}
	req := &wire.Request{Method: "notifications/initialized"}

	_, err := reg.handlers["notifications/initialized"](nil, req, hctx, engine.RequestInfo{})
	require.NoError(t, err)
	_, err = reg.handlers["notifications/initialized"](nil, req, hctx, engine.RequestInfo{})
	require.NoError(t, err)

	require.Equal(t, 1, calls)
}

func TestToolsCallEcho(t *testing.T) {
	f := New()
	var reg testRegistrar
	require.NoError(t, f.Initialize(&reg))

	req := &wire.Request{ID: wire.StringID("1"), Method: "tools/call", Params: json.RawMessage(`{"name":"echo","arguments":{"text":"hello"}}`)}
	result, err := reg.handlers["tools/call"](nil, req, engine.HandlerContext{}, engine.RequestInfo{})
	require.NoError(t, err)

	res, ok := result.(callToolResult)
	require.True(t, ok)
	require.False(t, res.IsError)
	require.Equal(t, "hello", res.Content[0].Text)
}

func TestToolsCallUnknownToolIsError(t *testing.T) {
	f := New()
	var reg testRegistrar
	require.NoError(t, f.Initialize(&reg))

	req := &wire.Request{ID: wire.StringID("1"), Method: "tools/call", Params: json.RawMessage(`{"name":"bogus"}`)}
	result, err := reg.handlers["tools/call"](nil, req, engine.HandlerContext{}, engine.RequestInfo{})
	require.NoError(t, err)

	res, ok := result.(callToolResult)
	require.True(t, ok)
	require.True(t, res.IsError)
}

type testRegistrar struct {
	handlers map[string]engine.HandlerFunc
}

func (r *testRegistrar) RegisterHandler(method string, h engine.HandlerFunc) error {
	if r.handlers == nil {
		r.handlers = make(map[string]engine.HandlerFunc)
	}
	r.handlers[method] = h
	return nil
}
