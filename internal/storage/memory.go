package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/vianexus/agentmemory/pkg/types"
)

// VolatileStore is an in-process Backend holding records in a map. It is
// safe for concurrent use and offers no durability: records vanish when the
// process exits. Save never fails short of memory exhaustion. Records are
// deep-copied on the way in and out so callers can never alias the stored
// state.
type VolatileStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.SessionRecord
}

var _ Backend = (*VolatileStore)(nil)

// NewVolatileStore constructs an empty in-memory store.
func NewVolatileStore() *VolatileStore {
	return &VolatileStore{sessions: make(map[string]*types.SessionRecord)}
}

// Save stores a deep copy of the record.
func (s *VolatileStore) Save(ctx context.Context, rec *types.SessionRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := ValidateSessionID(rec.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec.Clone()
	return nil
}

// Load returns a deep copy of the stored record, or ErrNotFound.
func (s *VolatileStore) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns the IDs of all sessions owned by userID, sorted.
func (s *VolatileStore) List(ctx context.Context, userID string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.sessions {
		if rec.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a session. Idempotent.
func (s *VolatileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Search scans the user's sessions in ID order for messages containing
// query.
func (s *VolatileStore) Search(ctx context.Context, userID, query string, sessionIDs []string, limit int) ([]types.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := sessionIDs
	if len(ids) == 0 {
		for id, rec := range s.sessions {
			if rec.UserID == userID {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
	}

	var matches []types.Message
	for _, id := range ids {
		rec, ok := s.sessions[id]
		if !ok || rec.UserID != userID {
			continue
		}
		matches = appendMatches(matches, rec.Messages, query, limit)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// Exists reports whether the session is present.
func (s *VolatileStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}
