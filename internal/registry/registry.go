// Package registry holds the process-wide schema. It is loaded once at startup,
// never mutated afterwards, and shared by reference with every request.
package registry

import (
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	language "github.com/hanpama/brokergraph/internal/language"
	schema "github.com/hanpama/brokergraph/internal/schema"
	validation "github.com/hanpama/brokergraph/internal/validation"
)

type Registry struct {
	schema  *schema.Schema
	sdl     string
	digest  string
	options []validation.Option
}

// Load builds the registry from SDL sources. Any SchemaError is returned as is
// so the caller can refuse to start.
func Load(logger *zap.Logger, sources []*language.Source, opts ...validation.Option) (*Registry, error) {
	s, err := schema.Load(sources...)
	if err != nil {
		return nil, err
	}
	r := New(s, opts...)
	if logger != nil {
		logger.Info("schema loaded",
			zap.Int("types", len(s.Types)),
			zap.String("query", s.QueryType),
			zap.String("mutation", s.MutationType),
			zap.String("digest", r.digest))
	}
	return r, nil
}

// New wraps an already built schema.
func New(s *schema.Schema, opts ...validation.Option) *Registry {
	sdl := schema.Render(s)
	sum := sha256.Sum256([]byte(sdl))
	return &Registry{
		schema:  s,
		sdl:     sdl,
		digest:  hex.EncodeToString(sum[:8]),
		options: opts,
	}
}

func (r *Registry) Schema() *schema.Schema { return r.schema }

// SDL returns the canonical rendering of the loaded schema.
func (r *Registry) SDL() string { return r.sdl }

// Digest identifies the schema revision; it changes whenever the SDL does.
func (r *Registry) Digest() string { return r.digest }

// Validate checks a request against the schema. On failure the error is a
// validation.ValidationError listing every violation.
func (r *Registry) Validate(query, operationName string) (*validation.Query, error) {
	return validation.Validate(r.schema, query, operationName, r.options...)
}
