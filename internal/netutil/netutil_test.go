package netutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsLoopback(t *testing.T) {
	require.True(t, IsLoopback("127.0.0.1:8080"))
	require.True(t, IsLoopback("localhost:8080"))
	require.True(t, IsLoopback("[::1]:8080"))
	require.False(t, IsLoopback("9.9.9.9:8080"))
	require.False(t, IsLoopback("not-an-addr"))
}
