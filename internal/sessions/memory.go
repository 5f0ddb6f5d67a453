package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot-agent/core/pkg/models"
)

// maxMessagesPerSession bounds in-memory history growth; older messages are
// trimmed once the cap is exceeded.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store, the only persistence the dispatcher
// needs for tests and local runs; on-disk layout is out of scope.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	byKey    map[string]string
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		byKey:    make(map[string]string),
		messages: make(map[string][]*models.Message),
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		if s, ok := m.sessions[id]; ok && !s.Archived {
			return cloneSession(s), nil
		}
	}
	return m.createLocked(key, channelType, channelID, chatID, scope), nil
}

func (m *MemoryStore) createLocked(key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) *models.Session {
	now := time.Now()
	s := &models.Session{
		ID:          uuid.NewString(),
		ChannelType: channelType,
		ChannelID:   channelID,
		ChatID:      chatID,
		Scope:       scope,
		Status:      models.CompletionIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.sessions[s.ID] = s
	m.byKey[key] = s.ID
	return cloneSession(s)
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return errors.New("session not found: " + sessionID)
	}
	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID
	m.messages[sessionID] = append(m.messages[sessionID], &clone)

	if over := len(m.messages[sessionID]) - maxMessagesPerSession; over > 0 {
		m.messages[sessionID] = m.messages[sessionID][over:]
	}
	return nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[sessionID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*models.Message, 0, len(all)-start)
	for _, msg := range all[start:] {
		clone := *msg
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MemoryStore) MarkStatus(ctx context.Context, sessionID string, status models.CompletionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return errors.New("session not found: " + sessionID)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context, key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		if s, ok := m.sessions[id]; ok {
			s.Archived = true
			s.UpdatedAt = time.Now()
		}
	}
	return m.createLocked(key, channelType, channelID, chatID, scope), nil
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	return &clone
}
