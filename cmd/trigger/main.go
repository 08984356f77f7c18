package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"

	"github.com/tpr-labs/nriy/internal/api"
	"github.com/tpr-labs/nriy/internal/app"
	"github.com/tpr-labs/nriy/internal/config"
	"github.com/tpr-labs/nriy/internal/metrics"
	"github.com/tpr-labs/nriy/internal/registry"
	"github.com/tpr-labs/nriy/internal/store"
	"github.com/tpr-labs/nriy/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		_ = godotenv.Load()
		return config.Load(), nil
	}
	newLogger     = app.Logger
	openStore     = app.OpenStore
	buildRegistry = app.Registry
	dialTemporal  = client.Dial
	newServer     = func(reg *registry.Registry, st store.Store, temporalClient client.Client, cfg config.Config, logger *slog.Logger) server {
		service := workflows.NewService(temporalClient, reg, cfg.TemporalTaskQueue, workflows.WithStageTimeout(cfg.StageTimeout))
		return api.NewServer(reg, service, metrics.New(),
			api.WithLogger(logger),
			api.WithReadinessCheck("store", st.Ping),
			api.WithReadinessCheck("temporal", func(ctx context.Context) error {
				_, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
				return err
			}),
		)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()

	reg, err := buildRegistry(cfg, st, logger)
	if err != nil {
		return err
	}
	reg.Seal()

	temporalClient, err := dialTemporal(app.TemporalOptions(cfg, logger))
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	srv := newServer(reg, st, temporalClient, cfg, logger)
	addr := fmt.Sprintf(":%s", cfg.TriggerPort)
	logger.Info("nriy trigger listening", "addr", addr, "stages", reg.Names().Workflows)
	return srv.Start(ctx, addr)
}
