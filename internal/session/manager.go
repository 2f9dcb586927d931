// Package session orchestrates conversation session lifecycle: creation,
// retrieval, cloning, branching and deletion, with per-session isolation
// under concurrent access and durability delegated to a storage backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vianexus/agentmemory/internal/event"
	"github.com/vianexus/agentmemory/internal/identity"
	"github.com/vianexus/agentmemory/internal/logging"
	"github.com/vianexus/agentmemory/internal/storage"
	"github.com/vianexus/agentmemory/pkg/types"
)

// lockShards is the size of the session lock table. Session IDs hash onto a
// fixed set of mutexes, bounding lock memory while preserving per-session
// serialization for any reasonably distributed workload.
const lockShards = 64

// Manager owns the session cache and enforces the isolation guarantee: no
// operation on one session can observe or mutate another session's data,
// even under concurrent execution. Mutating operations hold the session's
// lock shard for their full critical section, including the backend save;
// lifecycle events are published only after the lock is released.
// Cross-session operations (clone, branch) never hold two locks at once.
type Manager struct {
	backend storage.Backend
	bus     *event.Bus // nil disables event publication

	cacheMu sync.Mutex
	cache   *lruCache

	locks [lockShards]sync.Mutex
}

// New creates a Manager over the given backend with a bounded record cache.
func New(backend storage.Backend, cacheCapacity int) *Manager {
	return &Manager{
		backend: backend,
		cache:   newLRUCache(cacheCapacity),
	}
}

// NewWithBus is New plus lifecycle event publication.
func NewWithBus(backend storage.Backend, cacheCapacity int, bus *event.Bus) *Manager {
	m := New(backend, cacheCapacity)
	m.bus = bus
	return m
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &m.locks[h.Sum32()%lockShards]
}

func (m *Manager) publish(t event.Type, data any) {
	if m.bus != nil {
		m.bus.Publish(t, data)
	}
}

// SessionEvent is the payload published on lifecycle events.
type SessionEvent struct {
	SessionID string `json:"sessionID"`
	UserID    string `json:"userID,omitempty"`
	ParentID  string `json:"parentID,omitempty"`
	Sequence  int    `json:"sequence,omitempty"`
}

// Create generates a fresh identity, persists an empty record and caches
// it. Context, tags and metadata are optional. The returned ID encodes
// client type, user ID, context, creation time and a random suffix.
func (m *Manager) Create(ctx context.Context, userID, clientType, contextTag string, tags []string, metadata map[string]string) (string, error) {
	id, err := identity.Generate(clientType, userID, contextTag)
	if err != nil {
		return "", err
	}

	lock := m.lockFor(id)
	lock.Lock()

	exists, err := m.backend.Exists(ctx, id)
	if err != nil {
		lock.Unlock()
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	if exists {
		lock.Unlock()
		// 32 bits of entropy make this unreachable in practice; if it
		// fires anyway, something is deeply wrong, so fail hard.
		logging.Error().Str("session_id", id).Msg("session id collision")
		return "", fmt.Errorf("create session: %w: %s", ErrDuplicate, id)
	}

	rec := m.newRecord(id, userID, clientType, identity.SanitizeContext(contextTag), tags, metadata)
	if err := m.saveAndCache(ctx, rec); err != nil {
		lock.Unlock()
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	lock.Unlock()

	logging.Info().Str("session_id", id).Str("user_id", userID).Str("client_type", clientType).Msg("session created")
	m.publish(event.SessionCreated, SessionEvent{SessionID: id, UserID: userID})
	return id, nil
}

func (m *Manager) newRecord(id, userID, clientType, contextTag string, tags []string, metadata map[string]string) *record {
	now := time.Now().UnixMilli()
	data := &types.SessionRecord{
		ID:         id,
		UserID:     userID,
		ClientType: clientType,
		Time:       types.SessionTime{Created: now, Accessed: now},
	}
	if len(tags) > 0 {
		data.Tags = append([]string(nil), tags...)
	}
	if len(metadata) > 0 || contextTag != "" {
		data.Metadata = make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			data.Metadata[k] = v
		}
		if contextTag != "" {
			data.Metadata[types.MetaContext] = contextTag
		}
	}
	return &record{data: data}
}

// saveAndCache persists the record and inserts it into the cache. Caller
// holds the session's lock shard.
func (m *Manager) saveAndCache(ctx context.Context, rec *record) error {
	if err := m.backend.Save(ctx, rec.data); err != nil {
		return err
	}
	m.cacheInsert(rec.data.ID, rec)
	return nil
}

func (m *Manager) cacheInsert(id string, rec *record) {
	m.cacheMu.Lock()
	evictedID, evicted := m.cache.put(id, rec)
	m.cacheMu.Unlock()
	if evicted != nil {
		if evicted.dirty {
			logging.Warn().Str("session_id", evictedID).Msg("evicted session with unflushed changes")
		} else {
			logging.Debug().Str("session_id", evictedID).Msg("session evicted from cache")
		}
		// Callers hold a session lock here; a backed-up bus must not
		// stall them over a cache eviction notice.
		go m.publish(event.SessionEvicted, SessionEvent{SessionID: evictedID})
	}
}

// lookup returns the cached record, lazily loading from the backend on a
// miss. Caller holds the session's lock shard.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*record, error) {
	m.cacheMu.Lock()
	rec, ok := m.cache.get(sessionID)
	m.cacheMu.Unlock()
	if ok {
		return rec, nil
	}

	data, err := m.backend.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := checkSequence(data.Messages); err != nil {
		logging.Error().Str("session_id", sessionID).Err(err).Msg("loaded history fails sequence check")
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	rec = &record{data: data}
	m.cacheInsert(sessionID, rec)
	logging.Debug().Str("session_id", sessionID).Int("messages", len(data.Messages)).Msg("session loaded from backend")
	return rec, nil
}

// checkSequence verifies the history is exactly 0..n-1.
func checkSequence(msgs []types.Message) error {
	for i, msg := range msgs {
		if msg.Sequence != i {
			return fmt.Errorf("%w: message %d carries sequence %d", ErrSequence, i, msg.Sequence)
		}
	}
	return nil
}

// Get returns a deep copy of the session record, loading it from the
// backend on a cache miss. Callers never receive the cached record itself.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec.data.Time.Accessed = time.Now().UnixMilli()
	return rec.data.Clone(), nil
}

// Append adds one message to the session under its lock and persists the
// record before the lock is released, so an observed success carries the
// backend's durability guarantee. Pass types.SequenceAuto as msg.Sequence
// to have the next index assigned; an explicit index that is not the next
// one fails with ErrSequence. On a failed save the message stays cached
// and the record stays dirty; Flush retries without re-appending.
func (m *Manager) Append(ctx context.Context, sessionID string, msg types.Message) (types.Message, error) {
	if !msg.Role.Valid() {
		return types.Message{}, fmt.Errorf("%w: unknown role %q", identity.ErrInvalidInput, msg.Role)
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	msg, userID, err := m.appendLocked(ctx, sessionID, msg)
	lock.Unlock()
	if err != nil {
		return types.Message{}, err
	}

	// Published after the lock is released: a slow subscriber backing up
	// the bus must not stall writers holding the session lock.
	m.publish(event.MessageAppended, SessionEvent{SessionID: sessionID, UserID: userID, Sequence: msg.Sequence})
	return msg, nil
}

func (m *Manager) appendLocked(ctx context.Context, sessionID string, msg types.Message) (types.Message, string, error) {
	rec, err := m.lookup(ctx, sessionID)
	if err != nil {
		return types.Message{}, "", err
	}

	next := len(rec.data.Messages)
	if msg.Sequence != types.SequenceAuto && msg.Sequence != next {
		logging.Error().Str("session_id", sessionID).Int("got", msg.Sequence).Int("want", next).Msg("out of order append")
		return types.Message{}, "", fmt.Errorf("append session %s: %w: got %d, want %d", sessionID, ErrSequence, msg.Sequence, next)
	}

	msg.SessionID = sessionID
	msg.Sequence = next
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Time == 0 {
		msg.Time = time.Now().UnixMilli()
	}

	rec.data.Messages = append(rec.data.Messages, msg)
	rec.data.Time.Accessed = time.Now().UnixMilli()
	rec.dirty = true

	if err := m.backend.Save(ctx, rec.data); err != nil {
		// The message stays in the cache and the record stays dirty so a
		// Flush can retry without losing it.
		return types.Message{}, "", fmt.Errorf("append session %s: %w", sessionID, err)
	}
	rec.dirty = false
	return msg, rec.data.UserID, nil
}

// Flush retries persisting a record whose last save failed. No-op for
// clean or uncached sessions.
func (m *Manager) Flush(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.cacheMu.Lock()
	rec, ok := m.cache.get(sessionID)
	m.cacheMu.Unlock()
	if !ok || !rec.dirty {
		return nil
	}
	if err := m.backend.Save(ctx, rec.data); err != nil {
		return fmt.Errorf("flush session %s: %w", sessionID, err)
	}
	rec.dirty = false
	return nil
}

// Switch resolves an existing session for a new client context. This is the
// cross-client retrieval path: any client presenting a valid session ID can
// resume a conversation started elsewhere (facades additionally verify the
// user). With createIfMissing, an absent session is materialized from the
// identity encoded in the ID; otherwise absence is ErrNotFound.
func (m *Manager) Switch(ctx context.Context, sessionID string, createIfMissing bool) (*types.SessionRecord, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()

	rec, err := m.lookup(ctx, sessionID)
	if err == nil {
		rec.data.Time.Accessed = time.Now().UnixMilli()
		snap := rec.data.Clone()
		lock.Unlock()
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) || !createIfMissing {
		lock.Unlock()
		return nil, err
	}

	id, err := identity.Parse(sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	newRec := m.newRecord(sessionID, id.UserID, id.ClientType, id.Context, nil, nil)
	if err := m.saveAndCache(ctx, newRec); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("switch session %s: %w", sessionID, err)
	}
	snap := newRec.data.Clone()
	lock.Unlock()

	logging.Info().Str("session_id", sessionID).Str("user_id", id.UserID).Msg("session materialized on switch")
	m.publish(event.SessionCreated, SessionEvent{SessionID: sessionID, UserID: id.UserID})
	return snap, nil
}

// Clone deep-copies the source history into a new session under a fresh
// identity, recording lineage in the metadata. The source is read under its
// own lock, released before the new record takes its lock; two locks are
// never held together, so concurrent clones of one parent simply produce
// independent clones.
func (m *Manager) Clone(ctx context.Context, sourceID, newContext string) (string, error) {
	snap, err := m.snapshot(ctx, sourceID)
	if err != nil {
		return "", err
	}
	return m.derive(ctx, snap, newContext, len(snap.Messages), event.SessionCloned)
}

// Branch is Clone truncated to the first at messages, enabling alternate
// continuations from a historical point. at must be within [0, len].
func (m *Manager) Branch(ctx context.Context, sourceID string, at int) (string, error) {
	snap, err := m.snapshot(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if at < 0 || at > len(snap.Messages) {
		return "", fmt.Errorf("%w: branch point %d out of range [0, %d]", identity.ErrInvalidInput, at, len(snap.Messages))
	}
	return m.derive(ctx, snap, "", at, event.SessionBranched)
}

// snapshot reads a deep copy of the source record under its lock.
func (m *Manager) snapshot(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rec.data.Clone(), nil
}

// derive builds and persists a new session from a source snapshot with the
// first n messages. Caller no longer holds the source lock.
func (m *Manager) derive(ctx context.Context, snap *types.SessionRecord, newContext string, n int, eventType event.Type) (string, error) {
	contextTag := identity.SanitizeContext(newContext)
	if contextTag == "" {
		contextTag = snap.Metadata[types.MetaContext]
	}

	newID, err := identity.Generate(snap.ClientType, snap.UserID, contextTag)
	if err != nil {
		return "", err
	}

	rec := m.newRecord(newID, snap.UserID, snap.ClientType, contextTag, snap.Tags, snap.Metadata)
	if rec.data.Metadata == nil {
		rec.data.Metadata = make(map[string]string, 2)
	}
	// Lineage keys copied from the source describe its derivation, not this
	// one; they are rewritten from scratch.
	delete(rec.data.Metadata, types.MetaBranchPoint)
	rec.data.Metadata[types.MetaParentSession] = snap.ID
	if eventType == event.SessionBranched {
		rec.data.Metadata[types.MetaBranchPoint] = strconv.Itoa(n)
	}

	rec.data.Messages = make([]types.Message, 0, n)
	for _, msg := range snap.Messages[:n] {
		copied := msg.Clone()
		copied.ID = ulid.Make().String()
		copied.SessionID = newID
		rec.data.Messages = append(rec.data.Messages, copied)
	}

	lock := m.lockFor(newID)
	lock.Lock()
	err = m.saveAndCache(ctx, rec)
	lock.Unlock()
	if err != nil {
		return "", fmt.Errorf("derive session %s from %s: %w", newID, snap.ID, err)
	}

	logging.Info().Str("session_id", newID).Str("parent_id", snap.ID).Int("messages", n).Msg("session derived")
	m.publish(eventType, SessionEvent{SessionID: newID, UserID: snap.UserID, ParentID: snap.ID})
	return newID, nil
}

// Clear truncates the session history to empty, keeping the session alive.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()

	rec, err := m.lookup(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return err
	}
	rec.data.Messages = nil
	rec.data.Time.Accessed = time.Now().UnixMilli()
	rec.dirty = true
	if err := m.backend.Save(ctx, rec.data); err != nil {
		lock.Unlock()
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	rec.dirty = false
	userID := rec.data.UserID
	lock.Unlock()

	m.publish(event.SessionCleared, SessionEvent{SessionID: sessionID, UserID: userID})
	return nil
}

// Delete removes the session from the cache and the backend. Idempotent:
// deleting an absent session is not an error.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()

	m.cacheMu.Lock()
	m.cache.remove(sessionID)
	m.cacheMu.Unlock()

	if err := m.backend.Delete(ctx, sessionID); err != nil {
		lock.Unlock()
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	lock.Unlock()

	logging.Info().Str("session_id", sessionID).Msg("session deleted")
	m.publish(event.SessionDeleted, SessionEvent{SessionID: sessionID})
	return nil
}

// Stats returns a consistent snapshot of the session's shape. The lock is
// held only for the copy, never for I/O on a cached session.
func (m *Manager) Stats(ctx context.Context, sessionID string) (types.SessionStats, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	rec, err := m.lookup(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return types.SessionStats{}, err
	}
	snap := rec.data.Clone()
	lock.Unlock()

	size := int64(0)
	if data, err := json.Marshal(snap); err == nil {
		size = int64(len(data))
	}
	return types.SessionStats{
		SessionID:    sessionID,
		MessageCount: len(snap.Messages),
		Created:      snap.Time.Created,
		Accessed:     snap.Time.Accessed,
		SizeEstimate: size,
	}, nil
}

// ListSessions returns the IDs of all sessions owned by userID.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := m.backend.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	return ids, nil
}

// Search returns the user's messages whose content contains query, case
// folded. sessionIDs narrows the scan; a session owned by another user is
// silently excluded, never searched. Results reflect persisted state only.
func (m *Manager) Search(ctx context.Context, userID, query string, sessionIDs []string, limit int) ([]types.Message, error) {
	msgs, err := m.backend.Search(ctx, userID, query, sessionIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("search sessions for %s: %w", userID, err)
	}
	return msgs, nil
}

// EvictIdle drops cached records whose last access is older than maxIdle.
// Cache-only maintenance: durable data is untouched and dirty records are
// kept. Returns the number of evicted sessions.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixMilli()

	m.cacheMu.Lock()
	var candidates []string
	m.cache.each(func(id string, _ *record) {
		candidates = append(candidates, id)
	})
	m.cacheMu.Unlock()

	// Access times are only read under the session's lock shard; shard
	// before cache mutex matches the ordering everywhere else.
	var evicted []string
	for _, id := range candidates {
		lock := m.lockFor(id)
		lock.Lock()
		m.cacheMu.Lock()
		if rec, ok := m.cache.peek(id); ok && !rec.dirty && rec.data.Time.Accessed < cutoff {
			m.cache.remove(id)
			evicted = append(evicted, id)
		}
		m.cacheMu.Unlock()
		lock.Unlock()
	}

	for _, id := range evicted {
		m.publish(event.SessionEvicted, SessionEvent{SessionID: id})
	}
	if len(evicted) > 0 {
		logging.Debug().Int("count", len(evicted)).Msg("idle sessions evicted")
	}
	return len(evicted)
}
