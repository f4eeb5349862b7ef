package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/logging"
)

const DefaultTopK = 5

type RetrieverConfig struct {
	TopK int
}

// Retriever finds the chunks nearest to a query.
type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	index    types.VectorIndex
	logger   *slog.Logger
}

func NewWithConfig(config RetrieverConfig, embedder types.Embedder, index types.VectorIndex) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
		logger:   logging.NewModuleLogger("retriever", "retriever"),
	}
}

// Retrieve embeds query once and returns up to topK chunks, nearest first.
// topK <= 0 uses the configured default. An empty index is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		topK = r.config.TopK
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := r.index.Query(ctx, embedding, topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: vector query failed: %w", models.ErrUpstream, err)
	}

	r.logger.Debug("retrieved chunks", "top_k", topK, "hits", len(chunks))
	return chunks, nil
}
