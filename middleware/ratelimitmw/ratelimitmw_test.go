package ratelimitmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMiddlewareAllowsBurstThenRejects(t *testing.T) {
	mw := Middleware(func(r *http.Request) string { return "key" }, 1, 2, 0)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestByClientIPPrefersForwardedForFromLoopbackProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.RemoteAddr = "127.0.0.1:1234"

	require.Equal(t, "1.2.3.4", ByClientIP(req))
}

func TestByClientIPIgnoresForwardedForFromNonLoopback(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.RemoteAddr = "9.9.9.9:1234"

	require.Equal(t, "9.9.9.9", ByClientIP(req), "forwarded headers from a non-loopback peer must not be trusted")
}

func TestByClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	require.Equal(t, "9.9.9.9", ByClientIP(req))
}

func TestBySessionHeaderFallsBackToClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	require.Equal(t, "9.9.9.9", BySessionHeader(req))

	req.Header.Set("Mcp-Session-Id", "sess-1")
	require.Equal(t, "sess-1", BySessionHeader(req))
}

func TestDistinctKeysHaveIndependentLimiters(t *testing.T) {
	mw := Middleware(ByClientIP, 1, 1, 0)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req1 := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req1.RemoteAddr = "1.1.1.1:1"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req2.RemoteAddr = "2.2.2.2:1"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code, "a fresh key should not be throttled by another key's usage")
}
