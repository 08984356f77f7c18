package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tpr-labs/nriy/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]store.Message
	users    map[string]store.User
	chats    map[string]store.Chat
}

func New() *MemoryStore {
	return &MemoryStore{
		messages: map[string]store.Message{},
		users:    map[string]store.User{},
		chats:    map[string]store.Chat{},
	}
}

func (m *MemoryStore) UpsertMessage(ctx context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.messages[msg.ID]; ok {
		existing.Body = msg.Body
		if strings.TrimSpace(msg.ChatID) != "" {
			existing.ChatID = msg.ChatID
		}
		m.messages[msg.ID] = existing
		return nil
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) UpsertUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) UpsertChat(ctx context.Context, chat store.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chat.ID] = chat
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &msg, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (m *MemoryStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &chat, nil
}

func (m *MemoryStore) ListHistory(ctx context.Context, query store.HistoryQuery) ([]store.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := []store.HistoryEntry{}
	for _, msg := range m.messages {
		if msg.ChatID != query.ChatID {
			continue
		}
		results = append(results, store.HistoryEntry{
			MessageID:  msg.ID,
			ChatID:     msg.ChatID,
			ChatName:   m.chats[msg.ChatID].Name,
			AuthorID:   msg.UserID,
			AuthorName: m.users[msg.UserID].Name,
			Body:       msg.Body,
			CreatedAt:  msg.CreatedAt,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].MessageID > results[j].MessageID
	})
	if limit := query.EffectiveLimit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) DeleteChat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
