package protoerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireRendersCodeAndMessage(t *testing.T) {
	e := MethodNotFound("tools/call")
	w := e.Wire()
	require.Equal(t, int64(CodeMethodNotFound), w.Code)
	require.Contains(t, w.Message, "tools/call")
}

func TestHandlerErrorPassesThroughProtocolError(t *testing.T) {
	inner := InvalidParams("bad shape")
	wrapped := HandlerError(inner)
	require.Same(t, inner, wrapped)
}

func TestHandlerErrorWrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := HandlerError(plain)
	require.Equal(t, KindHandlerError, wrapped.Kind)
	require.Equal(t, int64(CodeInternalError), wrapped.Code)
	require.ErrorIs(t, wrapped, plain)
}

func TestHandlerErrorNil(t *testing.T) {
	require.Nil(t, HandlerError(nil))
}

func TestAsError(t *testing.T) {
	pe := Internal("oops")
	got, ok := AsError(pe)
	require.True(t, ok)
	require.Same(t, pe, got)

	_, ok = AsError(errors.New("plain"))
	require.False(t, ok)
}

func TestTimeoutCarriesCause(t *testing.T) {
	e := Timeout("req-1", "sess-1", 5000)
	require.Equal(t, KindTimeout, e.Kind)
	require.Contains(t, e.Unwrap().Error(), "req-1")
}
