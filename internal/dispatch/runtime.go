package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	executor "github.com/hanpama/brokergraph/internal/executor"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

// ErrUnsettled is reported for a field whose future was still pending after
// every loader stopped making progress.
var ErrUnsettled = errors.New("resolver result never settled")

// Projector exposes the fields of a domain value by GraphQL field name. Values
// that are neither a Projector nor a map project every field to null.
type Projector interface {
	GraphQLField(name string) (any, bool)
}

// Typed values report their concrete GraphQL object type, which resolves
// interface and union fields.
type Typed interface {
	GraphQLType() string
}

// Runtime implements executor.Runtime on top of a bound Table.
type Runtime struct {
	schema      *schema.Schema
	table       Table
	scalars     map[string]LeafSerializer
	concurrency int
	logger      *zap.Logger
}

var _ executor.Runtime = (*Runtime)(nil)

type Option func(*Runtime)

// WithScalar serializes values of a custom scalar with fn.
func WithScalar(name string, fn LeafSerializer) Option {
	return func(r *Runtime) { r.scalars[name] = fn }
}

// WithConcurrency bounds how many resolvers of one depth run at once.
func WithConcurrency(n int) Option { return func(r *Runtime) { r.concurrency = n } }

func WithLogger(l *zap.Logger) Option { return func(r *Runtime) { r.logger = l } }

// NewRuntime returns a runtime for s. t must have been bound to s with Bind.
func NewRuntime(s *schema.Schema, t Table, opts ...Option) *Runtime {
	r := &Runtime{
		schema:      s,
		table:       t,
		scalars:     make(map[string]LeafSerializer),
		concurrency: 16,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveSync projects a field off its parent value. It never performs I/O.
func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case nil:
		return nil, nil
	case Projector:
		v, _ := src.GraphQLField(field)
		return v, nil
	case map[string]any:
		return src[field], nil
	default:
		return nil, fmt.Errorf("cannot read field %s.%s from %T", objectType, field, source)
	}
}

// BatchResolveAsync runs the resolvers of one depth, then dispatches loaders
// until every returned future settled.
//
// Root mutation fields run one after another, each fully settled before the
// next starts. All other fields fan out with bounded concurrency.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	ec := FromContext(ctx)
	if ec == nil {
		ec = &ExecutionContext{Loaders: dataloader.NewScope()}
		ctx = WithExecutionContext(ctx, ec)
	}
	start := time.Now()

	var serial, parallel []int
	for i, t := range tasks {
		if r.schema.MutationType != "" && t.ObjectType == r.schema.MutationType {
			serial = append(serial, i)
		} else {
			parallel = append(parallel, i)
		}
	}

	for _, i := range serial {
		results[i] = r.call(ctx, tasks[i])
		r.settle(ctx, ec.Loaders, results, []int{i})
	}

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, i := range parallel {
		g.Go(func() error {
			results[i] = r.call(ctx, tasks[i])
			return nil
		})
	}
	_ = g.Wait()
	r.settle(ctx, ec.Loaders, results, parallel)

	rounds, batches := ec.Loaders.Stats()
	r.logger.Debug("resolved depth",
		zap.Int("tasks", len(tasks)),
		zap.Int("loader_rounds", rounds),
		zap.Int("loader_batches", batches),
		zap.Duration("duration", time.Since(start)))
	return results
}

func (r *Runtime) call(ctx context.Context, t executor.AsyncResolveTask) (res executor.AsyncResolveResult) {
	resolver, ok := r.table.Lookup(t.ObjectType, t.Field)
	if !ok {
		return executor.AsyncResolveResult{Error: fmt.Errorf("no resolver bound for %s.%s", t.ObjectType, t.Field)}
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("resolver panicked",
				zap.String("type", t.ObjectType),
				zap.String("field", t.Field),
				zap.Any("path", t.Path),
				zap.Any("panic", rec))
			res = executor.AsyncResolveResult{Error: fmt.Errorf("resolver %s.%s failed", t.ObjectType, t.Field)}
		}
	}()
	v, err := resolver(ctx, Params{ObjectType: t.ObjectType, Field: t.Field, Source: t.Source, Args: t.Args, Path: t.Path})
	return executor.AsyncResolveResult{Value: v, Error: err}
}

// settle dispatches loader rounds until the futures at idxs are done, then
// replaces each future with its outcome.
func (r *Runtime) settle(ctx context.Context, scope *dataloader.Scope, results []executor.AsyncResolveResult, idxs []int) {
	waiting := func() bool {
		for _, i := range idxs {
			if p, ok := results[i].Value.(dataloader.Pending); ok && !p.Done() {
				return true
			}
		}
		return false
	}
	for waiting() && ctx.Err() == nil {
		if scope.Dispatch(ctx) == 0 {
			break
		}
	}
	for _, i := range idxs {
		p, ok := results[i].Value.(dataloader.Pending)
		if !ok {
			continue
		}
		if !p.Done() {
			err := ctx.Err()
			if err == nil {
				err = ErrUnsettled
			}
			results[i] = executor.AsyncResolveResult{Error: err}
			continue
		}
		v, err := p.Value()
		results[i] = executor.AsyncResolveResult{Value: v, Error: err}
	}
}

// ResolveType reads the concrete type from Typed values or a "__typename" key.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	switch v := value.(type) {
	case Typed:
		return v.GraphQLType(), nil
	case map[string]any:
		if name, ok := v["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot determine concrete type of %s from %T", abstractType, value)
}

func (r *Runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (r *Runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}
