package dispatch

import (
	"context"

	auth "github.com/hanpama/brokergraph/internal/auth"
	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	validation "github.com/hanpama/brokergraph/internal/validation"
)

// ExecutionContext is the per-request state shared by every resolver of one
// operation. It is created after validation and dropped with the response.
type ExecutionContext struct {
	Query     *validation.Query
	Principal *auth.Principal // nil for anonymous requests
	Loaders   *dataloader.Scope
}

// NewExecutionContext returns a context with a fresh loader scope.
func NewExecutionContext(q *validation.Query, p *auth.Principal, opts ...dataloader.Option) *ExecutionContext {
	return &ExecutionContext{Query: q, Principal: p, Loaders: dataloader.NewScope(opts...)}
}

type ctxKey struct{}

func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ec)
}

// FromContext returns the ExecutionContext stored in ctx, or nil.
func FromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(ctxKey{}).(*ExecutionContext)
	return ec
}
