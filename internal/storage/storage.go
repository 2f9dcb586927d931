// Package storage defines the persistence contract for session records and
// provides the volatile, durable-file and object-store implementations.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/vianexus/agentmemory/pkg/types"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrNotFound indicates the session does not exist in the backend.
	ErrNotFound = errors.New("session not found")

	// ErrTimeout indicates a backend operation ran past the caller's
	// deadline. Retryable; the caller decides the backoff policy.
	ErrTimeout = errors.New("backend timeout")

	// ErrInvalidSessionID indicates a session ID that failed filename
	// sanitization and was rejected before any backend I/O.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Backend persists session records keyed by session ID. Implementations are
// stateless from the caller's perspective: Save is idempotent and atomic
// with respect to a single session, and a partially written session must
// never be observable by a subsequent Load. Key spaces are strictly
// partitioned by session ID; no backend ever reads or writes across keys.
type Backend interface {
	// Save persists the full record. For append-only backends only the
	// not-yet-persisted message tail is written.
	Save(ctx context.Context, rec *types.SessionRecord) error

	// Load retrieves a record, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*types.SessionRecord, error)

	// List returns the IDs of all sessions belonging to userID.
	List(ctx context.Context, userID string) ([]string, error)

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Exists reports whether the session is present.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// Search returns messages whose content contains query, case folded,
	// scanning only sessions owned by userID. A non-empty sessionIDs narrows
	// the scan to those sessions; IDs owned by another user are skipped, not
	// an error. limit > 0 caps the result count.
	Search(ctx context.Context, userID, query string, sessionIDs []string, limit int) ([]types.Message, error)
}

// appendMatches adds messages whose content contains query, case folded, to
// dst, stopping once limit is reached. limit <= 0 means unbounded.
func appendMatches(dst, msgs []types.Message, query string, limit int) []types.Message {
	q := strings.ToLower(query)
	for _, msg := range msgs {
		if limit > 0 && len(dst) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(msg.Content), q) {
			dst = append(dst, msg.Clone())
		}
	}
	return dst
}

// ctxErr maps context cancellation to the storage error vocabulary.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	return nil
}
