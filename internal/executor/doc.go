// Package executor runs validated GraphQL operations for the gateway, one
// async depth at a time.
//
// # Sync and async fields
//
// schema.Field.Async splits fields in two. dispatch.Bind marks every field
// that has a bound resolver async; fields that only project the parent value
// (a trade's side, a tick's price) stay sync.
//
// Sync fields resolve through Runtime.ResolveSync as soon as they are reached
// and never add depth. Async fields become AsyncResolveTask values queued for
// the current depth. When a depth has no sync work left, every queued task
// goes to Runtime.BatchResolveAsync in one call. That call is the tick on
// which the request's data loaders coalesce keys, so a portfolio of n
// holdings costs one price lookup, not n.
//
// For a query whose deepest async chain is d fields long, BatchResolveAsync
// runs exactly d times.
//
// # Merging and order
//
// Async fields with the same parent position, field and coerced arguments
// share one task. Root mutation fields are the exception: each is a write and
// runs on its own, in document order.
//
// Results are written into Object values that keep selection order, so the
// response follows the query however the batches complete.
//
// # Errors
//
// A resolver error becomes a located error carrying the field's path and,
// when the error has an ErrorCode method, extensions.code. A null in a
// Non-Null position nulls the nearest nullable ancestor, and tasks queued
// under that ancestor are dropped before the next batch. Other fields keep
// their data.
//
// A cancelled context ends the loop. Every queued field completes with the
// context error and no further depth runs.
package executor
