package session

import "errors"

// Sentinel errors for session operations, part of the Manager's public API.
// Check with errors.Is.
//
// Example:
//
//	rec, err := mgr.Get(ctx, id)
//	if errors.Is(err, session.ErrNotFound) {
//	    // start a fresh session
//	}
var (
	// ErrNotFound indicates the session is absent from both the cache and
	// the backend. Recoverable: callers may create a new session.
	ErrNotFound = errors.New("session not found")

	// ErrSequence indicates a sequence index that breaks the strictly
	// increasing 0..n-1 order. This is an integrity fault, never repaired
	// silently: it means concurrent-write corruption or a damaged backend.
	ErrSequence = errors.New("sequence violation")

	// ErrDuplicate indicates a generated session ID already exists in the
	// backend. With 32 bits of suffix entropy this is effectively
	// unreachable and treated as fatal, not retried.
	ErrDuplicate = errors.New("duplicate session id")
)
