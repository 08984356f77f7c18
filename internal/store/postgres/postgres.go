package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tpr-labs/nriy/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		store.CollectionChats,
		store.CollectionUsers,
		store.CollectionMessages,
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) UpsertMessage(ctx context.Context, msg store.Message) error {
	const query = `
		INSERT INTO messages (id, chat_id, user_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			body = EXCLUDED.body,
			chat_id = COALESCE(NULLIF(EXCLUDED.chat_id, ''), messages.chat_id),
			updated_at = now()
	`
	_, err := p.db.ExecContext(ctx, query, msg.ID, msg.ChatID, msg.UserID, msg.Body, createdAt(msg.CreatedAt))
	return err
}

func (p *PostgresStore) UpsertUser(ctx context.Context, user store.User) error {
	const query = `
		INSERT INTO users (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
	`
	_, err := p.db.ExecContext(ctx, query, user.ID, user.Name)
	return err
}

func (p *PostgresStore) UpsertChat(ctx context.Context, chat store.Chat) error {
	const query = `
		INSERT INTO chats (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
	`
	_, err := p.db.ExecContext(ctx, query, chat.ID, chat.Name)
	return err
}

func (p *PostgresStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	var msg store.Message
	err := p.db.QueryRowContext(ctx, "SELECT id, chat_id, user_id, body, created_at FROM messages WHERE id = $1", id).
		Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Body, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	var user store.User
	err := p.db.QueryRowContext(ctx, "SELECT id, name FROM users WHERE id = $1", id).Scan(&user.ID, &user.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *PostgresStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var chat store.Chat
	err := p.db.QueryRowContext(ctx, "SELECT id, name FROM chats WHERE id = $1", id).Scan(&chat.ID, &chat.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (p *PostgresStore) ListHistory(ctx context.Context, query store.HistoryQuery) ([]store.HistoryEntry, error) {
	const stmt = `
		SELECT m.id, m.chat_id, COALESCE(c.name, ''), m.user_id, COALESCE(u.name, ''), m.body, m.created_at
		FROM messages m
		LEFT JOIN chats c ON c.id = m.chat_id
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, stmt, query.ChatID, query.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.HistoryEntry{}
	for rows.Next() {
		var entry store.HistoryEntry
		if err := rows.Scan(
			&entry.MessageID,
			&entry.ChatID,
			&entry.ChatName,
			&entry.AuthorID,
			&entry.AuthorName,
			&entry.Body,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	return err
}

func (p *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	return err
}

func (p *PostgresStore) DeleteChat(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", id)
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func createdAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}
