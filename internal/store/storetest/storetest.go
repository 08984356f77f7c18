// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tpr-labs/nriy/internal/store"
)

// Run exercises s against the store contract. newStore must return an empty
// store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("UpsertMessageIsIdempotent", func(t *testing.T) {
		testUpsertMessageIsIdempotent(t, newStore(t))
	})
	t.Run("UpsertNeverRewritesAuthorship", func(t *testing.T) {
		testUpsertNeverRewritesAuthorship(t, newStore(t))
	})
	t.Run("HistoryWindowIsBoundedAndOrdered", func(t *testing.T) {
		testHistoryWindow(t, newStore(t))
	})
	t.Run("HistoryJoinsNames", func(t *testing.T) {
		testHistoryJoinsNames(t, newStore(t))
	})
	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		testGetMissing(t, newStore(t))
	})
	t.Run("Delete", func(t *testing.T) {
		testDelete(t, newStore(t))
	})
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s store.Store, chatID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, store.Chat{ID: chatID, Name: "general"}))
	require.NoError(t, s.UpsertUser(ctx, store.User{ID: "u-1", Name: "alice"}))
	require.NoError(t, s.UpsertUser(ctx, store.User{ID: "u-2", Name: "bob"}))
}

func testUpsertMessageIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "c-1")
	msg := store.Message{ID: "m-1", ChatID: "c-1", UserID: "u-1", Body: "hello", CreatedAt: base}

	require.NoError(t, s.UpsertMessage(ctx, msg))
	require.NoError(t, s.UpsertMessage(ctx, msg))

	window, err := s.ListHistory(ctx, store.HistoryQuery{ChatID: "c-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, "m-1", window[0].MessageID)
	require.Equal(t, "hello", window[0].Body)
}

func testUpsertNeverRewritesAuthorship(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "c-1")
	require.NoError(t, s.UpsertMessage(ctx, store.Message{ID: "m-1", ChatID: "c-1", UserID: "u-1", Body: "helo", CreatedAt: base}))
	require.NoError(t, s.UpsertMessage(ctx, store.Message{ID: "m-1", ChatID: "c-1", UserID: "u-2", Body: "hello", CreatedAt: base.Add(time.Hour)}))

	msg, err := s.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Body)
	require.Equal(t, "u-1", msg.UserID)
	require.True(t, msg.CreatedAt.Equal(base), "created_at changed to %s", msg.CreatedAt)
}

func testHistoryWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "c-1")
	seed(t, s, "c-2")
	for i := 0; i < 20; i++ {
		require.NoError(t, s.UpsertMessage(ctx, store.Message{
			ID:        fmt.Sprintf("m-%02d", i),
			ChatID:    "c-1",
			UserID:    "u-1",
			Body:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i%7) * time.Minute),
		}))
	}
	require.NoError(t, s.UpsertMessage(ctx, store.Message{ID: "other", ChatID: "c-2", UserID: "u-2", Body: "elsewhere", CreatedAt: base.Add(time.Hour)}))

	for _, limit := range []int{1, 5, 15, 50} {
		window, err := s.ListHistory(ctx, store.HistoryQuery{ChatID: "c-1", Limit: limit})
		require.NoError(t, err)
		require.LessOrEqual(t, len(window), limit)
		for i, entry := range window {
			require.Equal(t, "c-1", entry.ChatID)
			if i == 0 {
				continue
			}
			prev := window[i-1]
			require.False(t, entry.CreatedAt.After(prev.CreatedAt), "window not newest first at %d", i)
			if entry.CreatedAt.Equal(prev.CreatedAt) {
				require.Less(t, entry.MessageID, prev.MessageID)
			}
		}
	}

	window, err := s.ListHistory(ctx, store.HistoryQuery{ChatID: "c-1"})
	require.NoError(t, err)
	require.Len(t, window, store.DefaultHistoryLimit)
}

func testHistoryJoinsNames(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "c-1")
	require.NoError(t, s.UpsertMessage(ctx, store.Message{ID: "m-1", ChatID: "c-1", UserID: "u-2", Body: "hi", CreatedAt: base}))

	window, err := s.ListHistory(ctx, store.HistoryQuery{ChatID: "c-1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, "bob", window[0].AuthorName)
	require.Equal(t, "u-2", window[0].AuthorID)
	require.Equal(t, "general", window[0].ChatName)

	empty, err := s.ListHistory(ctx, store.HistoryQuery{ChatID: "missing", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testGetMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetMessage(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUser(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetChat(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "c-1")
	require.NoError(t, s.UpsertMessage(ctx, store.Message{ID: "m-1", ChatID: "c-1", UserID: "u-1", Body: "hi", CreatedAt: base}))

	require.NoError(t, s.DeleteMessage(ctx, "m-1"))
	require.NoError(t, s.DeleteUser(ctx, "u-1"))
	require.NoError(t, s.DeleteChat(ctx, "c-1"))

	_, err := s.GetMessage(ctx, "m-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUser(ctx, "u-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetChat(ctx, "c-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.Ping(ctx))
}
