package events

// AuthResult is emitted once per request after the bearer token was checked.
// Outcome is "ok" or the error code returned to the client.
type AuthResult struct {
	Outcome string
	Subject string
}
