// Package reqid carries the request ID used to correlate log lines, events
// and spans of one HTTP request.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the header a request ID is accepted from and echoed in.
const Header = "X-Request-ID"

// key is the context key for the request ID.
type key struct{}

// NewContext returns a copy of parent carrying id. An empty or oversized id is
// replaced by a random one. It also returns the ID stored.
func NewContext(parent context.Context, id string) (context.Context, string) {
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
