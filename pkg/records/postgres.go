package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/docchat/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	chunk_count INTEGER NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_user_idx ON documents (user_id, uploaded_at DESC);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	ephemeral_objects JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	sources JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_session_idx ON messages (session_id, seq);
`

// Postgres stores records through a shared pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create record tables: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close is a no-op; the pool belongs to the caller.
func (p *Postgres) Close() {}

func (p *Postgres) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (id, user_id, filename, chunk_count, uploaded_at) VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.UserID, doc.Filename, doc.ChunkCount, doc.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (p *Postgres) listDocuments(ctx context.Context, where string, args ...any) ([]models.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, filename, chunk_count, uploaded_at FROM documents `+where+` ORDER BY uploaded_at DESC, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.ChunkCount, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.UploadedAt = d.UploadedAt.UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (p *Postgres) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	return p.listDocuments(ctx, "WHERE user_id = $1", userID)
}

func (p *Postgres) AllDocuments(ctx context.Context) ([]models.Document, error) {
	return p.listDocuments(ctx, "")
}

func (p *Postgres) DeleteDocument(ctx context.Context, userID, documentID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	now := time.Now().UTC()
	s := &models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		EphemeralObjects: []json.RawMessage{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, ephemeral_objects, created_at, updated_at) VALUES ($1, $2, '[]', $3, $4)`,
		s.ID, s.UserID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return s, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s   models.Session
		raw []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &raw, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	objects, err := decodeObjects(raw)
	if err != nil {
		return nil, err
	}
	s.EphemeralObjects = objects
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func (p *Postgres) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	s, err := scanSession(p.pool.QueryRow(ctx,
		`SELECT id, user_id, ephemeral_objects, created_at, updated_at FROM sessions WHERE id = $1 AND user_id = $2`,
		sessionID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, ephemeral_objects, created_at, updated_at FROM sessions WHERE user_id = $1 ORDER BY updated_at DESC, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (p *Postgres) ReplaceObjects(ctx context.Context, userID, sessionID string, objects []json.RawMessage) (*models.Session, error) {
	raw, err := encodeObjects(objects)
	if err != nil {
		return nil, err
	}
	s, err := scanSession(p.pool.QueryRow(ctx,
		`UPDATE sessions SET ephemeral_objects = $3, updated_at = $4
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, ephemeral_objects, created_at, updated_at`,
		sessionID, userID, string(raw), time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return s, nil
}

func (p *Postgres) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	sources, err := encodeSources(msg.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	var sourcesArg any
	if sources != nil {
		sourcesArg = string(sources)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, role, content, sources, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, sourcesArg, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, session_id, role, content, sources, created_at FROM messages WHERE session_id = $1 ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var (
			m    models.ChatMessage
			role string
			raw  []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		if m.Sources, err = decodeSources(raw); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
