package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/chat"
	"github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/ingest"
	"github.com/xhad/docchat/pkg/llm"
	"github.com/xhad/docchat/pkg/metrics"
	"github.com/xhad/docchat/pkg/pdf"
	"github.com/xhad/docchat/pkg/processor"
	"github.com/xhad/docchat/pkg/records"
	"github.com/xhad/docchat/pkg/retriever"
	"github.com/xhad/docchat/pkg/store"
)

// app holds every long-lived component, built once at startup.
type app struct {
	pool        *pgxpool.Pool
	records     types.RecordStore
	index       types.VectorIndex
	metrics     *metrics.Metrics
	pipeline    *ingest.Pipeline
	retriever   *retriever.Retriever
	coordinator *chat.Coordinator
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{metrics: metrics.New("docchat")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// One pool serves both stores when they point at the same database.
	if cfg.Database.Driver == records.DriverPostgres {
		if a.pool, err = pgxpool.New(ctx, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	if a.records, err = records.Open(ctx, records.Config{
		Driver: cfg.Database.Driver,
		URL:    cfg.Database.URL,
	}, a.pool); err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}

	var indexPool *pgxpool.Pool
	if cfg.Vector.URL == cfg.Database.URL {
		indexPool = a.pool
	}
	if a.index, err = store.Open(ctx, store.Config{
		Backend:      cfg.Vector.Backend,
		Collection:   cfg.Vector.Collection,
		Dimension:    cfg.Embedding.Dimension,
		ConnString:   cfg.Vector.URL,
		QdrantHost:   cfg.Vector.QdrantHost,
		QdrantPort:   cfg.Vector.QdrantPort,
		QdrantAPIKey: cfg.Vector.QdrantAPIKey,
	}, indexPool); err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		RateLimit: cfg.Embedding.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	overlap := *cfg.Ingest.ChunkOverlap
	if overlap == 0 {
		overlap = processor.NoOverlap
	}
	a.pipeline = ingest.NewWithConfig(ingest.PipelineConfig{
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		MaxChunks:      cfg.Ingest.MaxChunks,
		Processor: processor.ProcessorConfig{
			ChunkSize:      cfg.Ingest.ChunkSize,
			ChunkOverlap:   overlap,
			MinChunkLength: cfg.Ingest.MinChunkLength,
		},
	}, pdf.NewExtractor(), embedder, a.index, a.records, a.metrics)

	a.retriever = retriever.NewWithConfig(retriever.RetrieverConfig{TopK: cfg.Retrieval.TopK}, embedder, a.index)
	a.coordinator = chat.NewCoordinator(a.retriever, chatEngine, a.records, a.metrics)

	return a, nil
}

func (a *app) Close() {
	if a.index != nil {
		a.index.Close()
	}
	if a.records != nil {
		a.records.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
