// Package authmw implements bearer-token verification as transport
// middleware (spec §4.D.2's "ordered list of (req,res,next)" shape),
// sitting in front of the streamable-HTTP handler so unauthenticated
// requests never reach session resolution or the engine.
package authmw

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	json "github.com/segmentio/encoding/json"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/relaymcp/relay/logging"
)

// ErrInactiveToken is returned by IntrospectionVerifier when the
// introspection endpoint reports the token as inactive.
var ErrInactiveToken = errors.New("authmw: token inactive")

// Claims is the minimal claim set this middleware requires; callers with
// richer claims should embed jwt.RegisteredClaims in their own type and
// pass a Verifier that parses into it directly.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Verifier validates a raw bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// KeyfuncVerifier adapts a jwt.Keyfunc into a Verifier, the common case of
// a single signing key (HMAC secret or RSA/ECDSA public key).
type KeyfuncVerifier struct {
	Keyfunc jwt.Keyfunc
}

func (v KeyfuncVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, v.Keyfunc)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

type claimsContextKey struct{}

// ClaimsFromContext returns the verified claims attached by Middleware, if
// any request passed through it.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok
}

// Middleware builds the (req,res,next) bearer-auth middleware (spec's
// ambient auth concern, not a named component: see auth/client.go for the
// corresponding client-side OAuthHandler this pairs with).
func Middleware(verifier Verifier, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Warn("authmw: token rejected", logging.F("err", err.Error()))
				unauthorized(w, "invalid bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IntrospectionVerifier verifies tokens against an RFC 7662 introspection
// endpoint instead of parsing a JWT locally, for deployments where the
// gateway is a resource server with no signing key of its own (the
// resource-server side of the teacher's client-side OAuthHandler/
// TokenSource pairing in auth/client.go).
type IntrospectionVerifier struct {
	Endpoint string
	Client   *http.Client // the clientcredentials-authenticated client used to call Endpoint
}

// NewIntrospectionVerifier builds a verifier whose calls to endpoint carry
// the gateway's own client-credentials token, via
// golang.org/x/oauth2/clientcredentials.
func NewIntrospectionVerifier(ctx context.Context, endpoint string, cfg clientcredentials.Config) *IntrospectionVerifier {
	return &IntrospectionVerifier{Endpoint: endpoint, Client: cfg.Client(ctx)}
}

type introspectionResponse struct {
	Active bool   `json:"active"`
	Scope  string `json:"scope"`
	Sub    string `json:"sub"`
}

func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if !body.Active {
		return nil, ErrInactiveToken
	}
	claims := &Claims{Scope: body.Scope}
	claims.Subject = body.Sub
	return claims, nil
}

var _ Verifier = (*IntrospectionVerifier)(nil)

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix)), true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
