// Package auth authenticates GraphQL requests from bearer tokens. Verification
// is stateless: every request carries its own token and nothing is remembered
// between requests except issuer signing keys.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrUnauthenticated covers missing, malformed and untrusted tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrExpired is returned for a token whose exp claim has passed.
	ErrExpired = errors.New("token is expired")
	// ErrForbidden is returned for a valid token lacking the required scope.
	ErrForbidden = errors.New("insufficient scope")
)

// DefaultScope is the scope a caller needs to use the GraphQL endpoint.
const DefaultScope = "graphql:proxy"

// Principal is the verified identity of a caller. It is immutable once built.
type Principal struct {
	Subject   string
	Issuer    string
	Email     string
	Scopes    []string
	ExpiresAt time.Time
}

func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// UserID maps the subject onto the broker's user key. Subjects that already are
// UUIDs are used directly; anything else gets a stable name-based UUID.
func (p *Principal) UserID() uuid.UUID {
	if id, err := uuid.Parse(p.Subject); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.Issuer+"#"+p.Subject))
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type tokenKey struct{}

// WithToken keeps the raw bearer token so downstream calls can forward it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// Code returns the error code reported to clients for an auth failure.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	default:
		return "UNAUTHENTICATED"
	}
}
