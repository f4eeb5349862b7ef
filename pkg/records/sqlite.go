package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/docchat/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	chunk_count INTEGER NOT NULL,
	uploaded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, uploaded_at);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	ephemeral_objects TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	sources TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// SQLite stores records in a single local database file. Timestamps are
// kept as Unix microseconds.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "docchat.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create record tables: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (s *SQLite) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	doc.UploadedAt = fromMicros(toMicros(doc.UploadedAt))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, filename, chunk_count, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.Filename, doc.ChunkCount, toMicros(doc.UploadedAt))
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *SQLite) listDocuments(ctx context.Context, where string, args ...any) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, filename, chunk_count, uploaded_at FROM documents `+where+` ORDER BY uploaded_at DESC, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var (
			d  models.Document
			at int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.ChunkCount, &at); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.UploadedAt = fromMicros(at)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLite) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	return s.listDocuments(ctx, "WHERE user_id = ?", userID)
}

func (s *SQLite) AllDocuments(ctx context.Context) ([]models.Document, error) {
	return s.listDocuments(ctx, "")
}

func (s *SQLite) DeleteDocument(ctx context.Context, userID, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND user_id = ?`, documentID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	return nil
}

func (s *SQLite) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	now := fromMicros(toMicros(time.Now()))
	sess := &models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		EphemeralObjects: []json.RawMessage{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, ephemeral_objects, created_at, updated_at) VALUES (?, ?, '[]', ?, ?)`,
		sess.ID, sess.UserID, toMicros(now), toMicros(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return sess, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row scanner) (*models.Session, error) {
	var (
		sess             models.Session
		raw              string
		created, updated int64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &raw, &created, &updated); err != nil {
		return nil, err
	}
	objects, err := decodeObjects([]byte(raw))
	if err != nil {
		return nil, err
	}
	sess.EphemeralObjects = objects
	sess.CreatedAt = fromMicros(created)
	sess.UpdatedAt = fromMicros(updated)
	return &sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	sess, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, ephemeral_objects, created_at, updated_at FROM sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

func (s *SQLite) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ephemeral_objects, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *SQLite) ReplaceObjects(ctx context.Context, userID, sessionID string, objects []json.RawMessage) (*models.Session, error) {
	raw, err := encodeObjects(objects)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ephemeral_objects = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		string(raw), toMicros(time.Now()), sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	return s.GetSession(ctx, userID, sessionID)
}

func (s *SQLite) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, sourcesArg, toMicros(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLite) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, sources, created_at FROM messages WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var (
			m       models.ChatMessage
			role    string
			sources sql.NullString
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &sources, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt = fromMicros(created)
		if sources.Valid {
			if m.Sources, err = decodeSources([]byte(sources.String)); err != nil {
				return nil, err
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
