package commands

import "github.com/google/uuid"

var requestIDFlag string

// resolveRequestID returns the --request-id flag value, or a fresh UUID if
// the caller didn't supply one. Mutating commands pass this to
// store.RunIdempotent so a retried client request never double-submits.
func resolveRequestID() string {
	if requestIDFlag != "" {
		return requestIDFlag
	}
	return uuid.NewString()
}
