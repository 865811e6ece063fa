package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "httpServer:\n  port: 8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.HTTPServer.Host)
	require.Equal(t, "/mcp", cfg.HTTPServer.Endpoint)
	require.Equal(t, int64(30000), cfg.StreamableHTTP.ResponseTimeoutMs)
	require.True(t, *cfg.StreamableHTTP.EnableBackgroundChannel)
	require.True(t, *cfg.StreamableHTTP.EnableSessionTermination)
	require.Equal(t, "memory", cfg.Broker.Backend)
	require.Equal(t, "memory", cfg.SessionStore.Backend)
}

func TestLoadMissingPortErrors(t *testing.T) {
	path := writeTempConfig(t, "httpServer:\n  host: 127.0.0.1\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownBrokerBackend(t *testing.T) {
	path := writeTempConfig(t, "httpServer:\n  port: 8080\nbroker:\n  backend: carrier-pigeon\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
httpServer:
  port: 9000
  host: 127.0.0.1
  endpoint: /custom
  middlewares: ["ratelimit", "auth"]
streamableHttp:
  responseTimeoutMs: 5000
  enableBackgroundChannel: false
broker:
  backend: nats
  nats:
    url: nats://localhost:4222
sessionStore:
  backend: redis
  redis:
    addr: localhost:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.HTTPServer.Port)
	require.Equal(t, "127.0.0.1", cfg.HTTPServer.Host)
	require.Equal(t, "/custom", cfg.HTTPServer.Endpoint)
	require.Equal(t, []string{"ratelimit", "auth"}, cfg.HTTPServer.Middlewares)
	require.Equal(t, int64(5000), cfg.StreamableHTTP.ResponseTimeoutMs)
	require.False(t, *cfg.StreamableHTTP.EnableBackgroundChannel)
	require.Equal(t, "nats", cfg.Broker.Backend)
	require.Equal(t, "redis", cfg.SessionStore.Backend)
	require.Equal(t, "localhost:6379", cfg.SessionStore.Redis.Addr)
}

func TestStreamableHTTPTimeoutConversion(t *testing.T) {
	s := StreamableHTTP{ResponseTimeoutMs: 2500}
	require.Equal(t, int64(2500), s.Timeout().Milliseconds())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	require.Error(t, err)
}
