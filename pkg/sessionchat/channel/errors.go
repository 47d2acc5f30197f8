package channel

import "fmt"

// AuthenticationError means no usable credential was supplied. It is fatal
// for the session view: the caller must re-authenticate, the adapter never
// retries it.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return e.Reason }

// ConnectionError is a transport-level failure after the dial backoff
// policy has been exhausted.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
