package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/llm"
)

// lengthClient embeds a text as [len(text), 1, 1, ...] and records batch sizes.
type lengthClient struct {
	mu      sync.Mutex
	dim     int
	batches []int
}

func (c *lengthClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, len(texts))
	c.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.dim)
		v[0] = float32(len(text))
		for j := 1; j < c.dim; j++ {
			v[j] = 1
		}
		out[i] = v
	}
	return out, nil
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{})
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultDimension, emb.Dimension())

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestEmbedder_EmbedBatch_OrderAndBatching(t *testing.T) {
	client := &lengthClient{dim: 4}
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{Dimension: 4, BatchSize: 2}, client)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := emb.EmbedBatch(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, []int{2, 2, 1}, client.batches)
}

func TestEmbedder_Embed(t *testing.T) {
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{Dimension: 3}, &lengthClient{dim: 3})

	v, err := emb.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1, 1}, v)
}

func TestEmbedder_EmbedBatch_Empty(t *testing.T) {
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{Dimension: 3}, &lengthClient{dim: 3})

	vectors, err := emb.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedder_EmbedBatch_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client embeddings.EmbedderClient
		want   error
	}{
		{
			name: "service error",
			client: embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
				return nil, errors.New("connection refused")
			}),
			want: models.ErrUpstream,
		},
		{
			name: "short response",
			client: embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
				return [][]float32{{1, 2, 3}}, nil
			}),
			want: models.ErrUpstream,
		},
		{
			name:   "wrong dimension",
			client: &lengthClient{dim: 5},
			want:   models.ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{Dimension: 3}, tt.client)

			vectors, err := emb.EmbedBatch(context.Background(), []string{"one", "two"})

			assert.Nil(t, vectors)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEmbedder_EmbedBatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		cancel()
		return nil, ctx.Err()
	})
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{Dimension: 3, RateLimit: 100}, client)

	_, err := emb.EmbedBatch(ctx, []string{"x"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrUpstream)
}
