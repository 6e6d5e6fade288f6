package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// KeySource resolves the verification key for a parsed but unverified token.
type KeySource interface {
	Key(ctx context.Context, token *jwt.Token) (any, error)
	Algorithms() []string
}

type Options struct {
	Issuer        string
	Audience      string
	RequiredScope string
	Leeway        time.Duration
	Now           func() time.Time
}

type Option func(*Options)

func WithIssuer(iss string) Option { return func(o *Options) { o.Issuer = iss } }

func WithAudience(aud string) Option { return func(o *Options) { o.Audience = aud } }

// WithRequiredScope overrides DefaultScope; an empty scope disables the check.
func WithRequiredScope(s string) Option { return func(o *Options) { o.RequiredScope = s } }

func WithLeeway(d time.Duration) Option { return func(o *Options) { o.Leeway = d } }

func WithClock(now func() time.Time) Option { return func(o *Options) { o.Now = now } }

// Verifier checks signature, issuer, audience and expiry of bearer tokens.
type Verifier struct {
	keys KeySource
	opt  Options
}

func NewVerifier(keys KeySource, opts ...Option) *Verifier {
	opt := Options{RequiredScope: DefaultScope, Now: time.Now}
	for _, f := range opts {
		f(&opt)
	}
	return &Verifier{keys: keys, opt: opt}
}

// Authenticate resolves the principal for an Authorization header and checks
// that it carries the required scope.
func (v *Verifier) Authenticate(ctx context.Context, header string) (*Principal, error) {
	raw, ok := BearerToken(header)
	if !ok {
		return nil, errors.Wrap(ErrUnauthenticated, "missing bearer token")
	}
	p, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if v.opt.RequiredScope != "" && !p.HasScope(v.opt.RequiredScope) {
		return p, errors.Wrapf(ErrForbidden, "scope %q required", v.opt.RequiredScope)
	}
	return p, nil
}

// Verify validates a raw JWT and returns its principal.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	if v.keys == nil {
		return nil, errors.Wrap(ErrUnauthenticated, "no issuer keys configured")
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods(v.keys.Algorithms()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.opt.Leeway),
		jwt.WithTimeFunc(v.opt.Now),
	}
	if v.opt.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.opt.Issuer))
	}
	if v.opt.Audience != "" {
		popts = append(popts, jwt.WithAudience(v.opt.Audience))
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		return v.keys.Key(ctx, token)
	}, popts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Wrap(ErrExpired, err.Error())
		}
		return nil, errors.Wrapf(ErrUnauthenticated, "unable to parse jwt token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.Wrap(ErrUnauthenticated, "claims in jwt token are not map claims")
	}
	return principalFromClaims(claims)
}

func principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "token has no subject")
	}
	iss, _ := claims.GetIssuer()
	p := &Principal{Subject: sub, Issuer: iss, Scopes: scopesFromClaims(claims)}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	if email, ok := claims["email"].(string); ok {
		p.Email = email
	}
	return p, nil
}

// scopesFromClaims accepts both the space separated "scope" claim and the
// list valued "scp" claim.
func scopesFromClaims(claims jwt.MapClaims) []string {
	var out []string
	for _, name := range []string{"scope", "scp"} {
		switch v := claims[name].(type) {
		case string:
			out = append(out, strings.Fields(v)...)
		case []any:
			for _, s := range v {
				if str, ok := s.(string); ok {
					out = append(out, str)
				}
			}
		}
	}
	return out
}
