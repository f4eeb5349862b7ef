package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

const (
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"

	DefaultCollection = "pdf_documents"
)

// Config picks and configures a vector index backend.
type Config struct {
	Backend    string
	Collection string
	Dimension  int

	// pgvector
	ConnString string

	// qdrant
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
}

// Open builds the configured index. pool is reused by the pgvector backend
// when non-nil.
func Open(ctx context.Context, cfg Config, pool *pgxpool.Pool) (types.VectorIndex, error) {
	switch cfg.Backend {
	case BackendPGVector, "":
		vsCfg := VectorStoreConfig{
			ConnString: cfg.ConnString,
			TableName:  cfg.Collection,
			VectorDim:  cfg.Dimension,
		}
		var (
			vs  *VectorStore
			err error
		)
		if pool != nil {
			vs, err = NewWithPool(vsCfg, pool)
		} else {
			vs, err = NewWithConfig(ctx, vsCfg)
		}
		if err != nil {
			return nil, err
		}
		return vs, nil
	case BackendQdrant:
		qs, err := NewQdrantWithConfig(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			VectorDim:  cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		return qs, nil
	case BackendMemory:
		return NewMemory(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkDimensions(chunks []models.IndexedChunk, dim int) error {
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index expects %d",
				models.ErrDimensionMismatch, c.ID, len(c.Embedding), dim)
		}
	}
	return nil
}

func checkQuery(embedding []float32, dim int) error {
	if len(embedding) != dim {
		return fmt.Errorf("%w: query has %d dimensions, index expects %d",
			models.ErrDimensionMismatch, len(embedding), dim)
	}
	return nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// sanitizeUTF8 drops invalid bytes that Postgres and gRPC would reject.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
