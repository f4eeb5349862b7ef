package store

import (
	"context"
	"sort"
	"sync"

	"github.com/xhad/docchat/internal/models"
)

// MemoryStore is an exact, brute-force index for tests and single-process use.
type MemoryStore struct {
	dim int

	mu     sync.RWMutex
	order  []string
	chunks map[string]models.IndexedChunk
}

func NewMemory(dim int) *MemoryStore {
	if dim == 0 {
		dim = 768
	}
	return &MemoryStore{
		dim:    dim,
		chunks: make(map[string]models.IndexedChunk),
	}
}

func (m *MemoryStore) AddChunks(_ context.Context, chunks []models.IndexedChunk) error {
	if err := checkDimensions(chunks, m.dim); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if _, ok := m.chunks[c.ID]; !ok {
			m.order = append(m.order, c.ID)
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, embedding []float32, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := checkQuery(embedding, m.dim); err != nil {
		return nil, err
	}

	m.mu.RLock()
	results := make([]models.RetrievedChunk, 0, len(m.order))
	for _, id := range m.order {
		c := m.chunks[id]
		results = append(results, models.RetrievedChunk{
			Content:  c.Content,
			Metadata: c.Metadata,
			Distance: cosineDistance(embedding, c.Embedding),
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryStore) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		if m.chunks[id].Metadata.DocumentID == documentID {
			delete(m.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

func (m *MemoryStore) CountByDocument(_ context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.chunks {
		if c.Metadata.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.chunks = make(map[string]models.IndexedChunk)
	return nil
}

func (m *MemoryStore) Close() {}
