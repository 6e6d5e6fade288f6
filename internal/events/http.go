// Package events defines what the gateway reports on the event bus. The
// server, the data loaders and the price feed publish them; metrics and
// tracing subscribe.
package events

import (
	"net/http"
	"time"
)

// RequestStart is emitted when the GraphQL endpoint receives a request.
type RequestStart struct {
	Request *http.Request
}

// RequestFinish is emitted after the response was written. Operations counts
// the operations the request carried: zero when it was rejected before
// parsing, more than one for a batch.
type RequestFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}
