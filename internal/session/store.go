package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/id"
	"scout/internal/logging"
	"scout/internal/shared/jsonx"
)

// Store owns every live session. Sessions are cached in memory keyed by id;
// the canonical record is a JSON file under <baseDir>/<projectKey>/sessions/.
// Persistence failures are reported but never break in-memory progress.
type Store struct {
	baseDir string
	logger  logging.Logger

	mu       sync.RWMutex
	sessions map[string]*managed
}

type managed struct {
	mu      sync.Mutex // guards status transitions and message appends
	session *Session
}

// NewStore creates a session store rooted at baseDir.
func NewStore(baseDir string) *Store {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	return &Store{
		baseDir:  baseDir,
		logger:   logging.NewComponentLogger("SessionStore"),
		sessions: make(map[string]*managed),
	}
}

// GetOrCreate resolves a session by id, loading it from disk if needed. An
// empty sessionID allocates a fresh session bound to projectKey.
func (s *Store) GetOrCreate(sessionID, projectKey string) (*Session, error) {
	if sessionID == "" {
		return s.create(projectKey)
	}

	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return entry.session, nil
	}

	loaded, err := s.loadFromDisk(sessionID, projectKey)
	if err != nil {
		// Unknown id: treat the caller-supplied id as authoritative and start
		// a fresh record under it so reconnecting clients keep their id.
		s.logger.Debug("Session %s not on disk, creating fresh: %v", sessionID, err)
		loaded = s.blankSession(sessionID, projectKey)
	}
	// Status never survives a restart as BUSY.
	loaded.Status = StatusIdle

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing.session, nil
	}
	s.sessions[sessionID] = &managed{session: loaded}
	return loaded, nil
}

func (s *Store) create(projectKey string) (*Session, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("project key is required to create a session")
	}
	sess := s.blankSession(id.NewSessionID(), projectKey)

	s.mu.Lock()
	s.sessions[sess.ID] = &managed{session: sess}
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) blankSession(sessionID, projectKey string) *Session {
	now := time.Now()
	return &Session{
		ID:          sessionID,
		ProjectKey:  projectKey,
		Messages:    []*Message{},
		Status:      StatusIdle,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

// Append adds a message to the session. Messages are append-only; previously
// emitted messages are never replaced.
func (s *Store) Append(sessionID string, message *Message) error {
	entry, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	if message.SessionID != sessionID {
		return fmt.Errorf("message %s does not belong to session %s", message.ID, sessionID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.session.Messages = append(entry.session.Messages, message)
	entry.session.UpdatedTime = time.Now()
	return nil
}

// MarkBusy latches the session for one assistant turn. At most one in-flight
// turn per session: a second caller gets SessionBusy.
func (s *Store) MarkBusy(sessionID string) error {
	entry, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session.Status == StatusBusy || entry.session.Status == StatusRetry {
		return scouterrors.New(scouterrors.KindSessionBusy,
			fmt.Sprintf("session %s has an in-flight turn", sessionID))
	}
	entry.session.Status = StatusBusy
	entry.session.UpdatedTime = time.Now()
	return nil
}

// MarkRetry labels a busy session as retrying. Observational only.
func (s *Store) MarkRetry(sessionID string) {
	if entry, err := s.entry(sessionID); err == nil {
		entry.mu.Lock()
		if entry.session.Status == StatusBusy {
			entry.session.Status = StatusRetry
		}
		entry.mu.Unlock()
	}
}

// MarkIdle releases the turn latch.
func (s *Store) MarkIdle(sessionID string) {
	if entry, err := s.entry(sessionID); err == nil {
		entry.mu.Lock()
		entry.session.Status = StatusIdle
		entry.session.UpdatedTime = time.Now()
		entry.mu.Unlock()
	}
}

// Messages returns a consistent snapshot of the message list.
func (s *Store) Messages(sessionID string) ([]*Message, error) {
	entry, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]*Message(nil), entry.session.Messages...), nil
}

// LatestUserMessage returns the most recent USER message, or nil.
func (s *Store) LatestUserMessage(sessionID string) (*Message, error) {
	return s.latestByRole(sessionID, RoleUser)
}

// LatestAssistantMessage returns the most recent ASSISTANT message, or nil.
func (s *Store) LatestAssistantMessage(sessionID string) (*Message, error) {
	return s.latestByRole(sessionID, RoleAssistant)
}

func (s *Store) latestByRole(sessionID string, role Role) (*Message, error) {
	messages, err := s.Messages(sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i], nil
		}
	}
	return nil, nil
}

// HasNewUserMessageAfter reports whether a USER message arrived after the
// given assistant message.
func (s *Store) HasNewUserMessageAfter(sessionID, assistantID string) (bool, error) {
	messages, err := s.Messages(sessionID)
	if err != nil {
		return false, err
	}
	seen := false
	for _, message := range messages {
		if seen && message.Role == RoleUser {
			return true, nil
		}
		if message.ID == assistantID {
			seen = true
		}
	}
	return false, nil
}

// Persist writes the session file. Called after each terminal part; failure
// is logged and reported but the in-memory copy stays authoritative.
func (s *Store) Persist(sessionID string) error {
	entry, err := s.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	data, err := jsonx.MarshalIndent(entry.session, "", "  ")
	projectKey := entry.session.ProjectKey
	entry.mu.Unlock()
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode session", err)
	}

	dir := filepath.Join(s.baseDir, sanitizePathComponent(projectKey), "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "create sessions dir", err)
	}
	path := filepath.Join(dir, sessionID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.logger.Error("Failed to persist session %s: %v", sessionID, err)
		return scouterrors.Wrap(scouterrors.KindPersistence, "write session file", err)
	}
	return nil
}

// PersistAll persists every cached session, best effort.
func (s *Store) PersistAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		ids = append(ids, sessionID)
	}
	s.mu.RUnlock()

	for _, sessionID := range ids {
		if err := s.Persist(sessionID); err != nil {
			s.logger.Warn("PersistAll: %v", err)
		}
	}
}

// Unload persists (best effort) and evicts a session from memory.
func (s *Store) Unload(sessionID string) {
	if err := s.Persist(sessionID); err != nil {
		s.logger.Warn("Unload persist failed for %s: %v", sessionID, err)
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// List returns the ids of sessions persisted for a project.
func (s *Store) List(projectKey string) ([]string, error) {
	dir := filepath.Join(s.baseDir, sanitizePathComponent(projectKey), "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return ids, nil
}

func (s *Store) entry(sessionID string) (*managed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return entry, nil
}

func (s *Store) loadFromDisk(sessionID, projectKey string) (*Session, error) {
	path := filepath.Join(s.baseDir, sanitizePathComponent(projectKey), "sessions", sessionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := jsonx.Unmarshal(data, &sess); err != nil {
		s.logger.Error("Failed to decode session file %s: %v", path, err)
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func sanitizePathComponent(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	cleaned := replacer.Replace(key)
	if cleaned == "" {
		cleaned = "default"
	}
	return cleaned
}
