package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/logging"
)

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	VectorDim  int
}

// QdrantStore keeps chunk vectors in a Qdrant collection.
type QdrantStore struct {
	config QdrantConfig
	client *qdrant.Client
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

func NewQdrantWithConfig(config QdrantConfig) (*QdrantStore, error) {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 6334
	}
	if config.Collection == "" {
		config.Collection = DefaultCollection
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{
		config: config,
		client: client,
		logger: logging.NewModuleLogger("store", "qdrant"),
	}, nil
}

// pointID maps a chunk id to the UUID form Qdrant requires. The mapping is
// stable, so re-adding a chunk overwrites the same point.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String())
}

func (qs *QdrantStore) ensure(ctx context.Context) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if qs.ready {
		return nil
	}

	exists, err := qs.client.CollectionExists(ctx, qs.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		err := qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: qs.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(qs.config.VectorDim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		qs.logger.Info("collection created", "collection", qs.config.Collection, "dimension", qs.config.VectorDim)
	}

	qs.ready = true
	return nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
	}
}

func (qs *QdrantStore) AddChunks(ctx context.Context, chunks []models.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDimensions(chunks, qs.config.VectorDim); err != nil {
		return err
	}
	if err := qs.ensure(ctx); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]any{
			"chunk_id":    c.ID,
			"document_id": c.Metadata.DocumentID,
			"filename":    sanitizeUTF8(c.Metadata.Filename),
			"chunk_index": c.Metadata.ChunkIndex,
			"content":     sanitizeUTF8(c.Content),
		}
		if c.Metadata.PageNumber != nil {
			payload["page_number"] = *c.Metadata.PageNumber
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (qs *QdrantStore) Query(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := checkQuery(embedding, qs.config.VectorDim); err != nil {
		return nil, err
	}
	if err := qs.ensure(ctx); err != nil {
		return nil, err
	}

	limit := uint64(topK)
	points, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.config.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	results := make([]models.RetrievedChunk, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		r := models.RetrievedChunk{
			Content: payload["content"].GetStringValue(),
			Metadata: models.ChunkMetadata{
				DocumentID: payload["document_id"].GetStringValue(),
				Filename:   payload["filename"].GetStringValue(),
				ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			},
			// Qdrant reports cosine similarity; convert to distance.
			Distance: 1 - float64(p.GetScore()),
		}
		if v, ok := payload["page_number"]; ok {
			page := int(v.GetIntegerValue())
			r.Metadata.PageNumber = &page
		}
		results = append(results, r)
	}
	return results, nil
}

func (qs *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := qs.ensure(ctx); err != nil {
		return err
	}
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (qs *QdrantStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	if err := qs.ensure(ctx); err != nil {
		return 0, err
	}
	n, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qs.config.Collection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Reset drops the collection and recreates it empty.
func (qs *QdrantStore) Reset(ctx context.Context) error {
	qs.mu.Lock()
	exists, err := qs.client.CollectionExists(ctx, qs.config.Collection)
	if err == nil && exists {
		err = qs.client.DeleteCollection(ctx, qs.config.Collection)
	}
	qs.ready = false
	qs.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	qs.logger.Warn("collection reset", "collection", qs.config.Collection)
	return qs.ensure(ctx)
}

func (qs *QdrantStore) Close() {
	if err := qs.client.Close(); err != nil {
		qs.logger.Warn("failed to close qdrant client", "error", err)
	}
}
