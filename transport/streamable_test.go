package transport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymcp/relay/broker/membroker"
	"github.com/relaymcp/relay/engine"
	"github.com/relaymcp/relay/feature/echofeature"
	"github.com/relaymcp/relay/logging"
	"github.com/relaymcp/relay/session/memstore"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	eng := engine.New()
	require.NoError(t, eng.AddFeature(echofeature.New()))

	brk := membroker.New(1024)
	t.Cleanup(func() { _ = brk.Close() })

	store := memstore.New()

	cfg := DefaultConfig()
	cfg.ResponseTimeout = 2 * time.Second

	h, err := NewHandler(eng, brk, store, cfg, logging.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func postReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleHealthIsAlwaysOK(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadinessReflectsSetReady(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/readiness", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"not ready","listening":false}`, rec.Body.String())

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","listening":true}`, rec.Body.String())
}

func TestPostRejectsMissingAccept(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestPostAcceptsJSONOnlyAccept(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(
		`{"jsonrpc":"2.0","id":"1","method":"initialize","params":{"protocolVersion":"2025-06-18"}}`))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "Accept with only application/json must still be honored")
	require.Contains(t, rec.Body.String(), `"serverInfo"`)
}

func TestPostNotificationOnlyReturnsAccepted(t *testing.T) {
	h := newTestHandler(t)
	req := postReq(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
}

func TestPostRequestReturnsJSONResult(t *testing.T) {
	h := newTestHandler(t)
	req := postReq(`{"jsonrpc":"2.0","id":"1","method":"initialize","params":{"protocolVersion":"2025-06-18"}}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"serverInfo"`)
	require.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
}

func TestPostUnknownMethodReturnsJSONRPCError(t *testing.T) {
	h := newTestHandler(t)
	req := postReq(`{"jsonrpc":"2.0","id":"1","method":"nonexistent/method"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"error"`)
}

func TestPostMalformedBodyIsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	req := postReq(`not json`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":-32700`)
	require.Contains(t, rec.Body.String(), `"id":null`)
}

func TestPostUnknownSessionIDReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)
	req := postReq(`{"jsonrpc":"2.0","id":"1","method":"initialize"}`)
	req.Header.Set("Mcp-Session-Id", "does-not-exist")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteIsIdempotent(t *testing.T) {
	h := newTestHandler(t)

	req := postReq(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	sessionID := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	del := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	del.Header.Set("Mcp-Session-Id", sessionID)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, del)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	// Deleting the same, already-gone session again is still a no-op 204.
	delRec2 := httptest.NewRecorder()
	h.ServeHTTP(delRec2, del)
	require.Equal(t, http.StatusNoContent, delRec2.Code)
}

func TestDeleteRequiresSessionHeader(t *testing.T) {
	h := newTestHandler(t)
	del := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, del)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRequiresSSEAccept(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "whatever")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestGetRequiresSessionHeader(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionsAdvertisesAllowedMethods(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Allow"), "POST")
}

func TestUnsupportedMethodIsNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPatch, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
