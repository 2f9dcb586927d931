// Package memory exposes the per-client view of conversation memory. A
// Facade is bound at construction to one user, client type and resolved
// session; every operation routes through the session manager, so calling
// code cannot reach another user's or session's data.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/vianexus/agentmemory/internal/session"
	"github.com/vianexus/agentmemory/pkg/types"
)

// ErrUserMismatch indicates a session ID that resolves to a record owned by
// a different user. The facade refuses to bind.
var ErrUserMismatch = errors.New("session belongs to a different user")

// Options configure facade construction.
type Options struct {
	// SessionID resumes an existing session instead of creating one. The
	// record's owner must match the bound user.
	SessionID string

	// Context labels a newly created session (ignored when resuming).
	Context string

	// Tags and Metadata seed a newly created session.
	Tags     []string
	Metadata map[string]string

	// CreateIfMissing materializes an absent SessionID instead of failing.
	CreateIfMissing bool
}

// Facade is the memory interface handed to provider-client adapters. It
// cannot be constructed without a resolved session, and it holds only the
// session reference, never the record.
type Facade struct {
	mgr        *session.Manager
	sessionID  string
	userID     string
	clientType string
}

// New binds a facade to (userID, clientType), resolving or creating the
// underlying session. Adapters call this once per conversation.
func New(ctx context.Context, mgr *session.Manager, userID, clientType string, opts Options) (*Facade, error) {
	var sessionID string
	if opts.SessionID != "" {
		rec, err := mgr.Switch(ctx, opts.SessionID, opts.CreateIfMissing)
		if err != nil {
			return nil, err
		}
		if rec.UserID != userID {
			return nil, fmt.Errorf("%w: session %s is owned by %s", ErrUserMismatch, opts.SessionID, rec.UserID)
		}
		sessionID = rec.ID
	} else {
		id, err := mgr.Create(ctx, userID, clientType, opts.Context, opts.Tags, opts.Metadata)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}
	return &Facade{
		mgr:        mgr,
		sessionID:  sessionID,
		userID:     userID,
		clientType: clientType,
	}, nil
}

// SessionID returns the bound session identifier.
func (f *Facade) SessionID() string { return f.sessionID }

// UserID returns the bound user.
func (f *Facade) UserID() string { return f.userID }

// Append records one conversation turn and persists it before returning.
func (f *Facade) Append(ctx context.Context, role types.Role, content string) (types.Message, error) {
	return f.mgr.Append(ctx, f.sessionID, types.Message{
		Role:     role,
		Content:  content,
		Sequence: types.SequenceAuto,
	})
}

// AppendMessage records a fully specified turn, for adapters that carry
// structured payloads. Set msg.Sequence to types.SequenceAuto unless the
// adapter tracks indices itself.
func (f *Facade) AppendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	return f.mgr.Append(ctx, f.sessionID, msg)
}

// History returns the ordered message sequence. With maxMessages > 0 only
// the most recent maxMessages are returned.
func (f *Facade) History(ctx context.Context, maxMessages int) ([]types.Message, error) {
	rec, err := f.mgr.Get(ctx, f.sessionID)
	if err != nil {
		return nil, err
	}
	msgs := rec.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	return msgs, nil
}

// Search finds messages containing query. By default the search is scoped
// to the bound session; allSessions widens it to every session the bound
// user owns, never beyond.
func (f *Facade) Search(ctx context.Context, query string, limit int, allSessions bool) ([]types.Message, error) {
	var sessionIDs []string
	if !allSessions {
		sessionIDs = []string{f.sessionID}
	}
	return f.mgr.Search(ctx, f.userID, query, sessionIDs, limit)
}

// Clear empties the bound session's history.
func (f *Facade) Clear(ctx context.Context) error {
	return f.mgr.Clear(ctx, f.sessionID)
}

// Stats returns a snapshot of the bound session's shape.
func (f *Facade) Stats(ctx context.Context) (types.SessionStats, error) {
	return f.mgr.Stats(ctx, f.sessionID)
}
