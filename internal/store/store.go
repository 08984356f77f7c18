package store

import (
	"context"
	"time"

	"github.com/tpr-labs/nriy/internal/execution"
)

// ErrNotFound is returned by Get* when no record has the requested id.
var ErrNotFound = execution.ErrNotFound

const (
	CollectionMessages = "messages"
	CollectionUsers    = "users"
	CollectionChats    = "chats"
)

// DefaultHistoryLimit bounds a history window when the query sets no limit.
const DefaultHistoryLimit = 15

type Message struct {
	ID        string
	ChatID    string
	UserID    string
	Body      string
	CreatedAt time.Time
}

type User struct {
	ID   string
	Name string
}

type Chat struct {
	ID   string
	Name string
}

// HistoryEntry is a stored message joined with its author and chat names.
type HistoryEntry struct {
	MessageID  string    `json:"message_id"`
	ChatID     string    `json:"chat_id"`
	ChatName   string    `json:"chat_name"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type HistoryQuery struct {
	ChatID string
	Limit  int
}

// EffectiveLimit returns the window bound, substituting the default for
// non-positive limits.
func (q HistoryQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return q.Limit
}

// Store persists chat messages, their authors and chats. Upserts are keyed by
// id and last-write-wins; an upsert of an existing message may change its body
// and chat but never its author or creation time. ListHistory returns at most
// the query limit entries, newest first, ties broken by descending id.
type Store interface {
	UpsertMessage(ctx context.Context, msg Message) error
	UpsertUser(ctx context.Context, user User) error
	UpsertChat(ctx context.Context, chat Chat) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListHistory(ctx context.Context, query HistoryQuery) ([]HistoryEntry, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
	DeleteChat(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
