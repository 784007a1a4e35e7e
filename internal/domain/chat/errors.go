package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both absent resources and resources the caller
	// is not allowed to see, so existence never leaks.
	ErrNotFound = errors.New("chat: not found")

	// ErrConflict signals a uniqueness violation (duplicate direct pair,
	// duplicate client message id). Callers absorb it by re-querying.
	ErrConflict = errors.New("chat: conflict")

	// ErrRateLimited signals too many send/typing requests from one principal.
	ErrRateLimited = errors.New("chat: rate limited")

	// ErrTransient marks a network failure the client may retry.
	ErrTransient = errors.New("chat: transient network error")
)

// ValidationError rejects malformed input before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
