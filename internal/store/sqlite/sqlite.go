package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tpr-labs/nriy/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_recent ON messages(chat_id, created_at DESC, id DESC);
`

type SQLiteStore struct {
	db *sql.DB
}

// New opens (and creates when missing) the database at path. The schema is
// applied on open.
func New(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg store.Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, user_id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			chat_id = COALESCE(NULLIF(excluded.chat_id, ''), messages.chat_id),
			updated_at = excluded.updated_at
	`, msg.ID, msg.ChatID, msg.UserID, msg.Body, created.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user store.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`, user.ID, user.Name, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertChat(ctx context.Context, chat store.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`, chat.ID, chat.Name, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	var msg store.Message
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, chat_id, user_id, body, created_at FROM messages WHERE id = ?`, id).
		Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	msg.CreatedAt = time.Unix(0, created).UTC()
	return &msg, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	var user store.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE id = ?`, id).Scan(&user.ID, &user.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM chats WHERE id = ?`, id).Scan(&chat.ID, &chat.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	return &chat, nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, query store.HistoryQuery) ([]store.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, COALESCE(c.name, ''), m.user_id, COALESCE(u.name, ''), m.body, m.created_at
		FROM messages m
		LEFT JOIN chats c ON c.id = m.chat_id
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, query.ChatID, query.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	results := []store.HistoryEntry{}
	for rows.Next() {
		var entry store.HistoryEntry
		var created int64
		if err := rows.Scan(&entry.MessageID, &entry.ChatID, &entry.ChatName, &entry.AuthorID, &entry.AuthorName, &entry.Body, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.CreatedAt = time.Unix(0, created).UTC()
		results = append(results, entry)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
