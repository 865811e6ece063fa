// Package jwtbind binds a session's bag to the identity claims carried on
// its originating request, so the feature registry can read "which
// principal owns this session" out of session.Session.Get without
// re-parsing a token on every call (spec §4.B's "opaque key/value bag" put
// to a concrete use).
package jwtbind

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/relaymcp/relay/session"
)

// BagKey is the session.Session.Bag key the claims are stored under.
const BagKey = "jwtbind.claims"

// Claims is the subset of a verified token this package persists.
type Claims struct {
	Subject string
	Scope   string
}

// Bind stores claims on sess's bag, keyed by BagKey.
func Bind(sess *session.Session, claims Claims) {
	sess.Set(BagKey, claims)
}

// Lookup retrieves the claims bound to sess, if any.
func Lookup(sess *session.Session) (Claims, bool) {
	v, ok := sess.Get(BagKey)
	if !ok {
		return Claims{}, false
	}
	c, ok := v.(Claims)
	return c, ok
}

// FromRegisteredClaims adapts a jwt.RegisteredClaims plus scope into the
// bag's Claims shape.
func FromRegisteredClaims(rc jwt.RegisteredClaims, scope string) Claims {
	return Claims{Subject: rc.Subject, Scope: scope}
}
