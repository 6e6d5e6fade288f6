package executor

import (
	"context"
)

// Runtime is what the Executor asks to produce field values. In the gateway
// it is dispatch.Runtime, optionally wrapped by the introspection runtime.
//
// Execution is breadth-first. At each depth the Executor first completes
// every sync field through ResolveSync, then hands all async fields of that
// depth to a single BatchResolveAsync call. Data loaders queued by those
// resolvers are therefore dispatched together, once per depth, and the next
// depth waits for the batch to return.
//
// Any error a method returns becomes a located GraphQL error on the field. A
// null in a non-null position propagates to the nearest nullable ancestor and
// the async tasks below it are dropped before they are resolved.
//
// One Runtime serves many operations at once, so implementations keep
// per-request state in ctx and never mutate source or args.
type Runtime interface {
	// ResolveSync computes a field that is not marked async. Returning
	// (nil, nil) yields null.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves every async field of one depth. results[i]
	// answers tasks[i]; a failed task does not affect the others.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType names the concrete object type of a value returned for an
	// interface or union field. The name must be a possible type of
	// abstractType.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// ResolveUnionConcreteValue and ResolveInterfaceConcreteValue unwrap a
	// value after ResolveType, before its selection set is completed.
	ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error)
	ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error)

	// SerializeLeafValue turns a scalar or enum value into its JSON form:
	// enum names as strings, Decimal and DateTime as strings, built-in
	// scalars as the matching Go kind.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// AsyncResolveTask is one async field awaiting resolution. Fields that share
// type, name, arguments and parent are merged into one task.
type AsyncResolveTask struct {
	ObjectType string
	Field      string
	// Source is the parent value, nil at the root.
	Source any
	// Args holds the coerced argument values.
	Args map[string]any
	// Path is the response path of the first field the task stands for.
	Path Path
}

type AsyncResolveResult struct {
	// Value is the raw field value before completion.
	Value any
	Error error
}
