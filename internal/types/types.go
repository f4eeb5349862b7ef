package types

import (
	"context"
	"encoding/json"

	"github.com/xhad/docchat/internal/models"
)

// Core interfaces

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces an answer incrementally, calling onDelta once per
// increment in order.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, onDelta func(string) error) error
}

type VectorIndex interface {
	AddChunks(ctx context.Context, chunks []models.IndexedChunk) error
	Query(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	CountByDocument(ctx context.Context, documentID string) (int, error)
	Reset(ctx context.Context) error
	Close()
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	AllDocuments(ctx context.Context) ([]models.Document, error)
	// DeleteDocument returns models.ErrNotFound when the owner has no such document.
	DeleteDocument(ctx context.Context, userID, documentID string) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, userID string) (*models.Session, error)
	GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string) ([]models.Session, error)
	ReplaceObjects(ctx context.Context, userID, sessionID string, objects []json.RawMessage) (*models.Session, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

// RecordStore is the relational side of the system.
type RecordStore interface {
	DocumentStore
	SessionStore
	Close()
}

// Page is the text of one PDF page, 1-based.
type Page struct {
	Number int
	Text   string
}

type TextExtractor interface {
	Extract(ctx context.Context, data []byte) ([]Page, error)
}
