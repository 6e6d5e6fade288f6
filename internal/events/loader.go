package events

import "time"

// LoaderBatch is emitted after a data loader batch settles, successfully or not.
type LoaderBatch struct {
	Loader   string
	Keys     int
	Attempts int
	Duration time.Duration
	Err      error
}

// LoaderRetry is emitted before a batch that failed with an unavailable
// backend is attempted again.
type LoaderRetry struct {
	Loader string
	Err    error
	Delay  time.Duration
}
