package executor

import (
	"context"
	"fmt"
	"sync"

	schema "github.com/hanpama/brokergraph/internal/schema"
)

// MockResolver answers one field for one parent.
type MockResolver func(ctx context.Context, source any, args map[string]any) (any, error)

func NewMockValueResolver(val any) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return val, nil }
}

func NewMockErrorResolver(err error) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

// Call records one field resolution. Sync calls have BatchID 0; async calls
// carry the number of the BatchResolveAsync call that resolved them.
type Call struct {
	Kind       string
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	BatchID    int
}

// MockRuntime resolves fields from a table keyed "Type.field" and records
// every call. Async tasks of one batch are resolved grouped by field in order
// of first appearance, the way dispatch.Runtime hands them to loaders.
type MockRuntime struct {
	mu        sync.Mutex
	resolvers map[string]MockResolver
	calls     []Call
	paths     []Path
	batches   int

	typeOf    func(value any) (string, error)
	serialize func(val any, t schema.TypeRef) (any, error)
}

func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{resolvers: make(map[string]MockResolver, len(resolvers))}
	for k, r := range resolvers {
		m.resolvers[k] = r
	}
	return m
}

// SetTypeResolver replaces the __typename lookup of a MockRuntime.
func SetTypeResolver(r Runtime, f func(value any) (string, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.typeOf = f
		m.mu.Unlock()
	}
}

// SetSerializer installs a leaf serializer on a MockRuntime. Without one,
// leaf values pass through unchanged.
func SetSerializer(r Runtime, f func(val any, t schema.TypeRef) (any, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.serialize = f
		m.mu.Unlock()
	}
}

func (m *MockRuntime) resolve(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	m.mu.Lock()
	r := m.resolvers[objectType+"."+field]
	m.mu.Unlock()
	if r == nil {
		return nil, nil
	}
	return r(ctx, source, args)
}

func (m *MockRuntime) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *MockRuntime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	v, err := m.resolve(ctx, objectType, field, source, args)
	m.record(Call{Kind: "sync", ObjectType: objectType, Field: field, Source: source, Args: args})
	return v, err
}

func (m *MockRuntime) BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult {
	if len(tasks) == 0 {
		return nil
	}
	m.mu.Lock()
	m.batches++
	batch := m.batches
	m.mu.Unlock()

	var order []string
	groups := make(map[string][]int)
	for i, t := range tasks {
		key := t.ObjectType + "." + t.Field
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	results := make([]AsyncResolveResult, len(tasks))
	for _, key := range order {
		for _, i := range groups[key] {
			t := tasks[i]
			v, err := m.resolve(ctx, t.ObjectType, t.Field, t.Source, t.Args)
			results[i] = AsyncResolveResult{Value: v, Error: err}
			m.record(Call{Kind: "async", ObjectType: t.ObjectType, Field: t.Field, Source: t.Source, Args: t.Args, BatchID: batch})
			m.mu.Lock()
			m.paths = append(m.paths, t.Path)
			m.mu.Unlock()
		}
	}
	return results
}

// ResolveType reads "__typename" from map values unless SetTypeResolver
// replaced it.
func (m *MockRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	m.mu.Lock()
	typeOf := m.typeOf
	m.mu.Unlock()
	if typeOf != nil {
		return typeOf(value)
	}
	if obj, ok := value.(map[string]any); ok {
		if name, ok := obj["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s", abstractType)
}

func (m *MockRuntime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (m *MockRuntime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}

func (m *MockRuntime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	m.mu.Lock()
	serialize := m.serialize
	m.mu.Unlock()
	if serialize == nil {
		return value, nil
	}
	return serialize(value, *schema.NamedType(scalarOrEnumTypeName))
}

// GetCalls returns the recorded calls in order.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// AsyncPaths returns the response path of every async task, in call order.
func (m *MockRuntime) AsyncPaths() []Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Path(nil), m.paths...)
}
