package jwtbind

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/relaymcp/relay/session"
)

func TestBindLookupRoundTrip(t *testing.T) {
	sess := session.New("sess-1")
	_, ok := Lookup(sess)
	require.False(t, ok)

	Bind(sess, Claims{Subject: "user-1", Scope: "mcp:read"})

	got, ok := Lookup(sess)
	require.True(t, ok)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, "mcp:read", got.Scope)
}

func TestFromRegisteredClaims(t *testing.T) {
	c := FromRegisteredClaims(jwt.RegisteredClaims{Subject: "user-2"}, "mcp:write")
	require.Equal(t, Claims{Subject: "user-2", Scope: "mcp:write"}, c)
}
