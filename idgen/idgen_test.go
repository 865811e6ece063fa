package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateDefaultIsUUID(t *testing.T) {
	id := Generator{}.Generate(Options{})
	require.Len(t, id, 36)
}

func TestGeneratePrefixSuffix(t *testing.T) {
	id := Generator{}.Generate(Options{Prefix: "gw-", Suffix: "-x"})
	require.True(t, len(id) > len("gw--x"))
	require.Equal(t, "gw-", id[:3])
	require.Equal(t, "-x", id[len(id)-2:])
}

func TestGenerateFixedLength(t *testing.T) {
	id := Generator{}.Generate(Options{Length: 12})
	require.Len(t, id, 12)
}

func TestGenerateUnique(t *testing.T) {
	a := Generator{}.Generate(Options{})
	b := Generator{}.Generate(Options{})
	require.NotEqual(t, a, b)
}

func TestNewSessionIDUnique(t *testing.T) {
	require.NotEqual(t, NewSessionID(), NewSessionID())
}
