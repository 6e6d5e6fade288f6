package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var errUnknownKey = errors.New("no signing key matches token")

// HMACKey trusts tokens signed with a shared secret.
type HMACKey []byte

func (k HMACKey) Algorithms() []string { return []string{"HS256", "HS384", "HS512"} }

func (k HMACKey) Key(_ context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(k), nil
}

// RSAKey trusts tokens signed by a single RSA public key.
type RSAKey struct {
	key any
}

// ParseRSAKey reads a PEM encoded RSA public key.
func ParseRSAKey(pem []byte) (*RSAKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse rsa public key")
	}
	return &RSAKey{key: key}, nil
}

func (k *RSAKey) Algorithms() []string { return []string{"RS256", "RS384", "RS512"} }

func (k *RSAKey) Key(_ context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return k.key, nil
}

// JWKS resolves keys from an issuer's JSON Web Key Set. Keys are cached and
// the set is fetched again when a token names a kid that is not cached, at
// most once per MinRefresh.
type JWKS struct {
	URL        string
	Client     *http.Client
	MinRefresh time.Duration
	Logger     *zap.Logger

	now     func() time.Time
	group   singleflight.Group
	mu      sync.RWMutex
	set     jose.JSONWebKeySet
	fetched time.Time
}

func NewJWKS(url string, logger *zap.Logger) *JWKS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKS{
		URL:        url,
		Client:     &http.Client{Timeout: 10 * time.Second},
		MinRefresh: 30 * time.Second,
		Logger:     logger,
		now:        time.Now,
	}
}

func (j *JWKS) Algorithms() []string {
	return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}
}

func (j *JWKS) Key(ctx context.Context, token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	alg := token.Method.Alg()

	if key, ok := j.lookup(kid, alg); ok {
		return key, nil
	}
	if !j.refreshDue() {
		return nil, errors.Wrapf(errUnknownKey, "kid %q", kid)
	}
	if err := j.Refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := j.lookup(kid, alg); ok {
		return key, nil
	}
	return nil, errors.Wrapf(errUnknownKey, "kid %q", kid)
}

func (j *JWKS) lookup(kid, alg string) (any, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	candidates := j.set.Keys
	if kid != "" {
		candidates = j.set.Key(kid)
	}
	for _, k := range candidates {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != alg {
			continue
		}
		if !k.IsPublic() {
			continue
		}
		return k.Key, true
	}
	return nil, false
}

func (j *JWKS) refreshDue() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.fetched.IsZero() || j.now().Sub(j.fetched) >= j.MinRefresh
}

// Refresh fetches the key set. Concurrent callers share one request.
func (j *JWKS) Refresh(ctx context.Context) error {
	_, err, _ := j.group.Do("jwks", func() (any, error) {
		set, err := j.fetch(ctx)
		if err != nil {
			j.Logger.Warn("jwks fetch failed", zap.String("url", j.URL), zap.Error(err))
			return nil, err
		}
		j.mu.Lock()
		j.set = *set
		j.fetched = j.now()
		j.mu.Unlock()
		j.Logger.Debug("jwks refreshed", zap.String("url", j.URL), zap.Int("keys", len(set.Keys)))
		return nil, nil
	})
	return err
}

func (j *JWKS) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build jwks request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := j.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch jwks")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read jwks")
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, errors.Wrap(err, "decode jwks")
	}
	return &set, nil
}

// Keys combines several sources; each token is routed to the first source
// that accepts its algorithm.
type Keys []KeySource

func (ks Keys) Algorithms() []string {
	var out []string
	for _, k := range ks {
		for _, a := range k.Algorithms() {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

func (ks Keys) Key(ctx context.Context, token *jwt.Token) (any, error) {
	alg := token.Method.Alg()
	for _, k := range ks {
		if slices.Contains(k.Algorithms(), alg) {
			return k.Key(ctx, token)
		}
	}
	return nil, errors.Errorf("unexpected signing method: %v", alg)
}
