package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tpr-labs/nriy/internal/config"
	"github.com/tpr-labs/nriy/internal/llm"
	"github.com/tpr-labs/nriy/internal/store"
	"github.com/tpr-labs/nriy/internal/store/memory"
)

func TestOpenStoreSelectsDriver(t *testing.T) {
	origPostgres := openPostgres
	t.Cleanup(func() { openPostgres = origPostgres })

	var gotConn string
	openPostgres = func(conn string) (store.Store, error) {
		gotConn = conn
		return memory.New(), nil
	}
	st, err := OpenStore(config.Config{StoreDriver: "postgres", PostgresURL: "postgres://example"})
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, "postgres://example", gotConn)

	st, err = OpenStore(config.Config{StoreDriver: "memory"})
	require.NoError(t, err)
	require.NoError(t, st.Ping(context.Background()))

	st, err = OpenStore(config.Config{StoreDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nriy.db")})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = OpenStore(config.Config{StoreDriver: "mongo"})
	var unsupported ErrUnsupportedStore
	require.True(t, errors.As(err, &unsupported))
	require.Equal(t, "mongo", unsupported.Driver)
}

func TestOpenStorePropagatesErrors(t *testing.T) {
	origPocketBase := openPocketBase
	t.Cleanup(func() { openPocketBase = origPocketBase })
	openPocketBase = func(string) (store.Store, error) {
		return nil, errors.New("unreachable")
	}
	_, err := OpenStore(config.Config{StoreDriver: "pocketbase"})
	require.EqualError(t, err, "unreachable")
}

func TestProviders(t *testing.T) {
	classifier, writer, err := Providers(config.Config{LLMMode: "local"})
	require.NoError(t, err)
	require.IsType(t, llm.LocalProvider{}, classifier)
	require.IsType(t, llm.LocalProvider{}, writer)

	_, _, err = Providers(config.Config{LLMMode: "remote", LLMProvider: "bard"})
	var unsupported llm.ErrUnsupportedProvider
	require.True(t, errors.As(err, &unsupported))
}

func TestRegistryWiresEveryUnit(t *testing.T) {
	reg, err := Registry(config.Config{LLMMode: "local", BotName: "nriy"}, memory.New(), slog.Default())
	require.NoError(t, err)
	names := reg.Names()
	require.Equal(t, []string{"reply", "router"}, names.Workflows)
	require.Len(t, names.Activities, 6)
}

func TestTemporalOptions(t *testing.T) {
	opts := TemporalOptions(config.Config{TemporalAddress: "temporal:7233", TemporalNamespace: "nriy"}, slog.Default())
	require.Equal(t, "temporal:7233", opts.HostPort)
	require.Equal(t, "nriy", opts.Namespace)
	require.NotNil(t, opts.Logger)
}
