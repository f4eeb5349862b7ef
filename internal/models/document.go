package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Document struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunkCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type ChunkMetadata struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunkIndex"`
	PageNumber *int   `json:"pageNumber,omitempty"`
}

// IndexedChunk is the unit stored in the vector index.
type IndexedChunk struct {
	ID        string
	Content   string
	Metadata  ChunkMetadata
	Embedding []float32
}

type RetrievedChunk struct {
	Content  string
	Metadata ChunkMetadata
	Distance float64
}

// ChunkID is stable for a (document, ordinal) pair so re-indexing overwrites
// and deletion can target a document's chunks.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", documentID, index)
}

type Session struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId"`
	EphemeralObjects []json.RawMessage `json:"ephemeralObjects"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatSource struct {
	Filename   string `json:"filename"`
	Content    string `json:"content"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
	PageNumber *int   `json:"pageNumber,omitempty"`
}

// SourceFromChunk builds the citation view of a retrieved chunk.
func SourceFromChunk(c RetrievedChunk) ChatSource {
	filename := c.Metadata.Filename
	if filename == "" {
		filename = "Unknown"
	}
	idx := c.Metadata.ChunkIndex
	src := ChatSource{
		Filename:   filename,
		Content:    c.Content,
		ChunkIndex: &idx,
	}
	if c.Metadata.PageNumber != nil {
		page := *c.Metadata.PageNumber
		src.PageNumber = &page
	}
	return src
}

type ChatMessage struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Sources   []ChatSource `json:"sources,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
