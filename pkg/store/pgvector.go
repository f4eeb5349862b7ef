package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/logging"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// VectorStore keeps chunk vectors in a Postgres table with the pgvector
// extension and ranks them by cosine distance.
type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	ownsPool bool
	table    string
	logger   *slog.Logger

	mu    sync.Mutex
	ready bool
}

func applyVectorStoreDefaults(config VectorStoreConfig) (VectorStoreConfig, error) {
	if config.TableName == "" {
		config.TableName = DefaultCollection
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if !identifier.MatchString(config.TableName) {
		return config, fmt.Errorf("%w: invalid collection name %q", models.ErrValidation, config.TableName)
	}
	return config, nil
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	config, err := applyVectorStoreDefaults(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := newVectorStore(config, pool)
	vs.ownsPool = true
	return vs, nil
}

// NewWithPool shares an existing pool. Close leaves the pool open.
func NewWithPool(config VectorStoreConfig, pool *pgxpool.Pool) (*VectorStore, error) {
	config, err := applyVectorStoreDefaults(config)
	if err != nil {
		return nil, err
	}
	return newVectorStore(config, pool), nil
}

func newVectorStore(config VectorStoreConfig, pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		logger: logging.NewModuleLogger("store", "pgvector"),
	}
}

// ensure creates the extension, table and index on first use.
func (vs *VectorStore) ensure(ctx context.Context) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.ready {
		return nil
	}

	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page_number INTEGER,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, vs.table, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createDocIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`,
		pgx.Identifier{vs.config.TableName + "_document_idx"}.Sanitize(), vs.table)
	if _, err := vs.pool.Exec(ctx, createDocIndex); err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	vs.ready = true
	vs.logger.Debug("collection ready", "table", vs.config.TableName, "dimension", vs.config.VectorDim)
	return nil
}

func (vs *VectorStore) AddChunks(ctx context.Context, chunks []models.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDimensions(chunks, vs.config.VectorDim); err != nil {
		return err
	}
	if err := vs.ensure(ctx); err != nil {
		return err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, filename, chunk_index, page_number, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			filename = EXCLUDED.filename,
			chunk_index = EXCLUDED.chunk_index,
			page_number = EXCLUDED.page_number,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		vs.table)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(stmt,
			c.ID,
			c.Metadata.DocumentID,
			sanitizeUTF8(c.Metadata.Filename),
			c.Metadata.ChunkIndex,
			c.Metadata.PageNumber,
			sanitizeUTF8(c.Content),
			pgvector.NewVector(c.Embedding),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// nearestQuery orders by the bare distance operator so the planner can serve
// it from the hnsw index.
func nearestQuery(table string) string {
	return fmt.Sprintf(`
		SELECT content, document_id, filename, chunk_index, page_number, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		table)
}

func (vs *VectorStore) Query(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := checkQuery(embedding, vs.config.VectorDim); err != nil {
		return nil, err
	}
	if err := vs.ensure(ctx); err != nil {
		return nil, err
	}

	rows, err := vs.pool.Query(ctx, nearestQuery(vs.table), pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedChunk
	for rows.Next() {
		var (
			r    models.RetrievedChunk
			page *int32
		)
		if err := rows.Scan(
			&r.Content,
			&r.Metadata.DocumentID,
			&r.Metadata.Filename,
			&r.Metadata.ChunkIndex,
			&page,
			&r.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if page != nil {
			p := int(*page)
			r.Metadata.PageNumber = &p
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return results, nil
}

func (vs *VectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := vs.ensure(ctx); err != nil {
		return err
	}
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.table), documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (vs *VectorStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	if err := vs.ensure(ctx); err != nil {
		return 0, err
	}
	var n int
	err := vs.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s WHERE document_id = $1", vs.table), documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Reset drops the table; the next call recreates it.
func (vs *VectorStore) Reset(ctx context.Context) error {
	vs.mu.Lock()
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.table))
	vs.ready = false
	vs.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	vs.logger.Warn("collection reset", "table", vs.config.TableName)
	return vs.ensure(ctx)
}

func (vs *VectorStore) Close() {
	if vs.pool != nil && vs.ownsPool {
		vs.pool.Close()
	}
}
