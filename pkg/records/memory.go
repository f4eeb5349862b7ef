package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/docchat/internal/models"
)

// Memory keeps records in process memory. Used by tests and the
// zero-dependency local mode.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	sessions  map[string]models.Session
	messages  map[string][]models.ChatMessage
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]models.Document),
		sessions:  make(map[string]models.Session),
		messages:  make(map[string][]models.ChatMessage),
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	m.documents[doc.ID] = *doc
	return nil
}

func (m *Memory) filterDocuments(keep func(models.Document) bool) []models.Document {
	m.mu.RLock()
	docs := []models.Document{}
	for _, d := range m.documents {
		if keep(d) {
			docs = append(docs, d)
		}
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

func (m *Memory) ListDocuments(_ context.Context, userID string) ([]models.Document, error) {
	return m.filterDocuments(func(d models.Document) bool { return d.UserID == userID }), nil
}

func (m *Memory) AllDocuments(context.Context) ([]models.Document, error) {
	return m.filterDocuments(func(models.Document) bool { return true }), nil
}

func (m *Memory) DeleteDocument(_ context.Context, userID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[documentID]
	if !ok || d.UserID != userID {
		return fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	delete(m.documents, documentID)
	return nil
}

func copySession(s models.Session) models.Session {
	s.EphemeralObjects = append([]json.RawMessage{}, s.EphemeralObjects...)
	return s
}

func (m *Memory) CreateSession(_ context.Context, userID string) (*models.Session, error) {
	now := time.Now().UTC()
	s := models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		EphemeralObjects: []json.RawMessage{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	out := copySession(s)
	return &out, nil
}

func (m *Memory) GetSession(_ context.Context, userID, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	out := copySession(s)
	return &out, nil
}

func (m *Memory) ListSessions(_ context.Context, userID string) ([]models.Session, error) {
	m.mu.RLock()
	sessions := []models.Session{}
	for _, s := range m.sessions {
		if s.UserID == userID {
			sessions = append(sessions, copySession(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (m *Memory) ReplaceObjects(_ context.Context, userID, sessionID string, objects []json.RawMessage) (*models.Session, error) {
	raw, err := encodeObjects(objects)
	if err != nil {
		return nil, err
	}
	normalized, err := decodeObjects(raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	s.EphemeralObjects = normalized
	s.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = s

	out := copySession(s)
	return &out, nil
}

func (m *Memory) DeleteSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stored := *msg
	stored.Sources = append([]models.ChatSource(nil), msg.Sources...)

	m.mu.Lock()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], stored)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ChatMessage{}, m.messages[sessionID]...), nil
}
