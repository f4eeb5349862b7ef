package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/logging"
	"golang.org/x/time/rate"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultOllamaURL      = "http://localhost:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultDimension      = 768
	DefaultBatchSize      = 64
)

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	BatchSize int
	// RateLimit caps embedding requests per second. Zero disables throttling.
	RateLimit float64
}

// Embedder turns text into fixed-dimension vectors via an external model.
type Embedder struct {
	config  EmbedderConfig
	client  embeddings.EmbedderClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

func applyEmbedderDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		config.Model = DefaultEmbeddingModel
	}
	if config.BaseURL == "" && config.Provider == ProviderOllama {
		config.BaseURL = DefaultOllamaURL
	}
	if config.Dimension == 0 {
		config.Dimension = DefaultDimension
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return config
}

// NewEmbedderWithConfig builds the provider client named by config.Provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = applyEmbedderDefaults(config)

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = emb
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = emb
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	return NewEmbedderWithClient(config, client), nil
}

// NewEmbedderWithClient wraps an already constructed client.
func NewEmbedderWithClient(config EmbedderConfig, client embeddings.EmbedderClient) *Embedder {
	config = applyEmbedderDefaults(config)

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: limiter,
		logger:  logging.NewModuleLogger("llm", "embedder"),
	}
}

func (e *Embedder) Dimension() int { return e.config.Dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input in input order. Inputs are sent in
// slices of BatchSize; any failing slice fails the whole call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch := texts[start:end]

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, ctxOr(ctx, err)
			}
		}

		vectors, err := e.client.CreateEmbedding(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error("embedding request failed", "batch_start", start, "batch_size", len(batch), "error", err)
			return nil, fmt.Errorf("%w: embedding request failed: %v", models.ErrUpstream, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: embedding service returned %d vectors for %d inputs",
				models.ErrUpstream, len(vectors), len(batch))
		}
		for i, v := range vectors {
			if len(v) != e.config.Dimension {
				return nil, fmt.Errorf("%w: input %d has %d dimensions, want %d",
					models.ErrDimensionMismatch, start+i, len(v), e.config.Dimension)
			}
		}
		out = append(out, vectors...)
	}

	e.logger.Debug("embedded texts", "count", len(texts))
	return out, nil
}

func ctxOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("rate limiter: %w", err)
}
