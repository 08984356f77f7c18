package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/tpr-labs/nriy/internal/app"
	"github.com/tpr-labs/nriy/internal/config"
	"github.com/tpr-labs/nriy/internal/metrics"
)

var (
	loadConfig = func() (config.Config, error) {
		_ = godotenv.Load()
		return config.Load(), nil
	}
	newLogger       = app.Logger
	dialTemporal    = client.Dial
	openStore       = app.OpenStore
	buildRegistry   = app.Registry
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
	serveMetrics    = startMetricsServer
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

	temporalClient, err := dialTemporal(app.TemporalOptions(cfg, logger))
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()

	reg, err := buildRegistry(cfg, st, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{m.WorkerInterceptor()},
	})
	reg.Install(w)

	if cfg.WorkerMetricsPort != "" {
		stop := serveMetrics(":"+cfg.WorkerMetricsPort, m.Handler(), logger)
		defer stop()
	}

	names := reg.Names()
	logger.Info("nriy worker started", "task_queue", cfg.TemporalTaskQueue, "stages", names.Workflows, "activities", names.Activities)
	return w.Run(workerInterrupt())
}

// startMetricsServer serves /metrics in the background and returns a func
// that shuts it down.
func startMetricsServer(addr string, handler http.Handler, logger *slog.Logger) func() {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
