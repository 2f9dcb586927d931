package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vianexus/agentmemory/internal/identity"
	"github.com/vianexus/agentmemory/internal/logging"
	"github.com/vianexus/agentmemory/pkg/types"
)

// FileStore is a durable Backend keeping one metadata document and one
// append-only message log per session under a dedicated root:
//
//	<root>/sessions/<session_id>.json   metadata (atomic rewrite)
//	<root>/messages/<session_id>.jsonl  one message per line, append-only
//
// Message lines are independently parseable, so a crash mid-append leaves
// at most one trailing partial line, which readers ignore. Save fsyncs the
// log before returning: an acknowledged write survives a crash. The message
// log is never rewritten in place except when a history is explicitly
// truncated (clear), which goes through an atomic tmp-and-rename.
type FileStore struct {
	root        string
	sessionsDir string
	messagesDir string

	mu        sync.Mutex
	locks     map[string]*fileLock
	persisted map[string]int // messages already on disk, by session ID
}

var _ Backend = (*FileStore)(nil)

// NewFileStore creates the store root and its subdirectories.
func NewFileStore(root string) (*FileStore, error) {
	s := &FileStore{
		root:        root,
		sessionsDir: filepath.Join(root, "sessions"),
		messagesDir: filepath.Join(root, "messages"),
		locks:       make(map[string]*fileLock),
		persisted:   make(map[string]int),
	}
	for _, dir := range []string{s.sessionsDir, s.messagesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return s, nil
}

func (s *FileStore) metaPath(sessionID string) string {
	return filepath.Join(s.sessionsDir, sessionID+".json")
}

func (s *FileStore) logPath(sessionID string) string {
	return filepath.Join(s.messagesDir, sessionID+".jsonl")
}

// Save writes the metadata document atomically and appends the message tail
// that is not yet on disk. Re-saving an unchanged record writes no message
// data, which makes Save idempotent.
func (s *FileStore) Save(ctx context.Context, rec *types.SessionRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := ValidateSessionID(rec.ID); err != nil {
		return err
	}

	lock := s.lockFor(rec.ID)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock session %s: %w", rec.ID, err)
	}
	defer lock.Unlock()

	if err := s.writeMeta(rec); err != nil {
		return err
	}
	return s.appendMessages(rec)
}

func (s *FileStore) writeMeta(rec *types.SessionRecord) error {
	meta := rec.Clone()
	meta.Messages = nil
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", rec.ID, err)
	}

	path := s.metaPath(rec.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *FileStore) appendMessages(rec *types.SessionRecord) error {
	n, err := s.persistedCount(rec.ID)
	if err != nil {
		return err
	}

	// A shorter history means an explicit truncation; rewrite the log
	// atomically instead of appending.
	if len(rec.Messages) < n {
		return s.rewriteLog(rec)
	}
	if len(rec.Messages) == n {
		return nil
	}

	f, err := os.OpenFile(s.logPath(rec.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open message log for %s: %w", rec.ID, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range rec.Messages[n:] {
		line, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to append message log for %s: %w", rec.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush message log for %s: %w", rec.ID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync message log for %s: %w", rec.ID, err)
	}

	s.setPersisted(rec.ID, len(rec.Messages))
	return nil
}

func (s *FileStore) rewriteLog(rec *types.SessionRecord) error {
	path := s.logPath(rec.ID)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to rewrite message log for %s: %w", rec.ID, err)
	}
	w := bufio.NewWriter(f)
	for _, msg := range rec.Messages {
		line, err := json.Marshal(msg)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to rewrite message log for %s: %w", rec.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush message log for %s: %w", rec.ID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync message log for %s: %w", rec.ID, err)
	}
	f.Close()
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit message log for %s: %w", rec.ID, err)
	}
	s.setPersisted(rec.ID, len(rec.Messages))
	return nil
}

// Load reads the metadata document and replays the message log. A trailing
// partial line is ignored; a corrupt line elsewhere is skipped with a
// warning, matching the crash-recovery contract.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.metaPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}

	msgs, err := s.readLog(sessionID)
	if err != nil {
		return nil, err
	}
	rec.Messages = msgs
	s.setPersisted(sessionID, len(msgs))
	return &rec, nil
}

func (s *FileStore) readLog(sessionID string) ([]types.Message, error) {
	f, err := os.Open(s.logPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open message log for %s: %w", sessionID, err)
	}
	defer f.Close()

	var msgs []types.Message
	var pending string // held back one line so a trailing partial stays silent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	flush := func(last bool) {
		if pending == "" {
			return
		}
		var msg types.Message
		if err := json.Unmarshal([]byte(pending), &msg); err != nil {
			if !last {
				logging.Warn().Str("session_id", sessionID).Err(err).Msg("skipping corrupt message line")
			}
			return
		}
		msgs = append(msgs, msg)
	}
	for scanner.Scan() {
		flush(false)
		pending = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message log for %s: %w", sessionID, err)
	}
	flush(true)
	return msgs, nil
}

// List scans the session directory and returns the IDs whose encoded user
// segment matches userID. Filenames that are not well-formed identifiers
// are skipped.
func (s *FileStore) List(ctx context.Context, userID string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return s.userSessionIDs(userID)
}

func (s *FileStore) userSessionIDs(userID string) ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(name, ".json")
		id, err := identity.Parse(sessionID)
		if err != nil {
			continue
		}
		if id.UserID == userID {
			ids = append(ids, sessionID)
		}
	}
	return ids, nil
}

// Search replays the message logs of the user's sessions and returns the
// messages containing query. Session IDs encoding a different user are
// skipped.
func (s *FileStore) Search(ctx context.Context, userID, query string, sessionIDs []string, limit int) ([]types.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	ids := sessionIDs
	if len(ids) == 0 {
		var err error
		ids, err = s.userSessionIDs(userID)
		if err != nil {
			return nil, err
		}
	}

	var matches []types.Message
	for _, sessionID := range ids {
		if err := ValidateSessionID(sessionID); err != nil {
			continue
		}
		id, err := identity.Parse(sessionID)
		if err != nil || id.UserID != userID {
			continue
		}
		msgs, err := s.readLog(sessionID)
		if err != nil {
			return nil, err
		}
		matches = appendMatches(matches, msgs, query, limit)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// Delete removes the metadata document and the message log. Idempotent.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	lock := s.lockFor(sessionID)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock session %s: %w", sessionID, err)
	}
	defer lock.Unlock()

	for _, path := range []string{s.metaPath(sessionID), s.logPath(sessionID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
		}
	}

	s.mu.Lock()
	delete(s.persisted, sessionID)
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

// Exists reports whether the metadata document is present.
func (s *FileStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	_, err := os.Stat(s.metaPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat session %s: %w", sessionID, err)
	}
	return true, nil
}

func (s *FileStore) lockFor(sessionID string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = newFileLock(filepath.Join(s.messagesDir, sessionID))
		s.locks[sessionID] = lock
	}
	return lock
}

// persistedCount returns how many messages are already on disk, counting
// the log once for sessions first seen by this process.
func (s *FileStore) persistedCount(sessionID string) (int, error) {
	s.mu.Lock()
	n, ok := s.persisted[sessionID]
	s.mu.Unlock()
	if ok {
		return n, nil
	}
	msgs, err := s.readLog(sessionID)
	if err != nil {
		return 0, err
	}
	s.setPersisted(sessionID, len(msgs))
	return len(msgs), nil
}

func (s *FileStore) setPersisted(sessionID string, n int) {
	s.mu.Lock()
	s.persisted[sessionID] = n
	s.mu.Unlock()
}
