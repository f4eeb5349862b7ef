// Package records persists documents, sessions and chat transcripts.
package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Driver string
	// URL is a Postgres connection string or a SQLite file path.
	URL string
}

// Open returns the configured record store. pool is required for the
// postgres driver and ignored otherwise.
func Open(ctx context.Context, cfg Config, pool *pgxpool.Pool) (types.RecordStore, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		if pool == nil {
			return nil, fmt.Errorf("postgres record store needs a connection pool")
		}
		pg, err := NewPostgres(ctx, pool)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverSQLite:
		lite, err := NewSQLite(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return lite, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func encodeObjects(objects []json.RawMessage) ([]byte, error) {
	if objects == nil {
		objects = []json.RawMessage{}
	}
	b, err := json.Marshal(objects)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral objects are not valid JSON: %v", models.ErrValidation, err)
	}
	return b, nil
}

func decodeObjects(b []byte) ([]json.RawMessage, error) {
	objects := []json.RawMessage{}
	if len(b) == 0 {
		return objects, nil
	}
	if err := json.Unmarshal(b, &objects); err != nil {
		return nil, fmt.Errorf("failed to decode ephemeral objects: %w", err)
	}
	return objects, nil
}

func encodeSources(sources []models.ChatSource) ([]byte, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	return json.Marshal(sources)
}

func decodeSources(b []byte) ([]models.ChatSource, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var sources []models.ChatSource
	if err := json.Unmarshal(b, &sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	return sources, nil
}
