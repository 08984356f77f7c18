// Package app assembles the collaborators shared by the trigger and worker
// processes from configuration.
package app

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/tpr-labs/nriy/internal/config"
	"github.com/tpr-labs/nriy/internal/llm"
	"github.com/tpr-labs/nriy/internal/logging"
	"github.com/tpr-labs/nriy/internal/personality"
	"github.com/tpr-labs/nriy/internal/registry"
	"github.com/tpr-labs/nriy/internal/search"
	"github.com/tpr-labs/nriy/internal/store"
	"github.com/tpr-labs/nriy/internal/store/memory"
	"github.com/tpr-labs/nriy/internal/store/pocketbase"
	"github.com/tpr-labs/nriy/internal/store/postgres"
	"github.com/tpr-labs/nriy/internal/store/sqlite"
	"github.com/tpr-labs/nriy/internal/workflows"
)

const (
	classifierTemperature = 0
	writerTemperature     = 0.7
)

type ErrUnsupportedStore struct {
	Driver string
}

func (e ErrUnsupportedStore) Error() string {
	return fmt.Sprintf("unsupported store driver %q (want postgres, sqlite, pocketbase or memory)", e.Driver)
}

var (
	openPostgres = func(conn string) (store.Store, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	openSQLite = func(path string) (store.Store, error) {
		st, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	openPocketBase = func(baseURL string) (store.Store, error) {
		st, err := pocketbase.New(baseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
)

func Logger(cfg config.Config) (*slog.Logger, func() error, error) {
	return logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
}

// TemporalOptions routes SDK logs through logger.
func TemporalOptions(cfg config.Config, logger *slog.Logger) client.Options {
	return client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(logger),
	}
}

func OpenStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres", "":
		return openPostgres(cfg.PostgresURL)
	case "sqlite":
		return openSQLite(cfg.SQLitePath)
	case "pocketbase":
		return openPocketBase(cfg.PocketBaseURL)
	case "memory":
		return memory.New(), nil
	default:
		return nil, ErrUnsupportedStore{Driver: cfg.StoreDriver}
	}
}

// Providers returns the classification and synthesis models.
func Providers(cfg config.Config) (llm.Provider, llm.Provider, error) {
	base := llm.Config{
		Mode:             cfg.LLMMode,
		Provider:         cfg.LLMProvider,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
	}
	classifierCfg := base
	classifierCfg.Model = cfg.LLMClassifierModel
	classifierCfg.Temperature = classifierTemperature
	classifier, err := llm.NewProvider(classifierCfg)
	if err != nil {
		return nil, nil, err
	}
	writerCfg := base
	writerCfg.Model = cfg.LLMModel
	writerCfg.Temperature = writerTemperature
	writer, err := llm.NewProvider(writerCfg)
	if err != nil {
		return nil, nil, err
	}
	return classifier, writer, nil
}

func Searcher(cfg config.Config) search.Provider {
	return search.NewNaverProvider(search.NaverConfig{
		ClientID:          cfg.NaverClientID,
		ClientSecret:      cfg.NaverClientSecret,
		Display:           cfg.SearchDisplay,
		RequestsPerSecond: cfg.SearchRPS,
	})
}

// Registry builds the activities and stages served by this deployment.
func Registry(cfg config.Config, st store.Store, logger *slog.Logger) (*registry.Registry, error) {
	classifier, writer, err := Providers(cfg)
	if err != nil {
		return nil, err
	}
	activities := workflows.NewActivities(st, classifier, writer, Searcher(cfg),
		workflows.WithBotName(cfg.BotName),
		workflows.WithPersona(personality.Resolve(cfg.BotName)),
		workflows.WithLogger(logger),
	)
	stages := workflows.NewStages(workflows.StageConfig{
		HistoryLimit:  cfg.HistoryLimit,
		CommandPrefix: cfg.CommandPrefix,
		BotName:       cfg.BotName,
		ReplyTimeout:  cfg.ReplyTimeout,
	})
	return workflows.NewRegistry(activities, stages)
}
