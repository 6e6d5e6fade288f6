package events

import "time"

// OperationStart is emitted when a validated operation begins executing.
type OperationStart struct {
	Name string
	// Type is "query" or "mutation".
	Type string
	// Subject is the caller's token subject, empty when anonymous.
	Subject string
}

// OperationFinish is emitted once the operation's response is complete.
// ErrorCodes holds the extensions code of every error in response order.
// LoaderRounds and LoaderBatches describe how the operation's data loaders
// were dispatched.
type OperationFinish struct {
	Name          string
	Type          string
	Subject       string
	ErrorCodes    []string
	LoaderRounds  int
	LoaderBatches int
	Duration      time.Duration
}
