// The simulator service backs the dark matter visualization front end: it
// serves density-field artifacts and drives the inference pipeline around
// the external model process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/darkmatter-labs/darkmatter-go/internal/artifact"
	"github.com/darkmatter-labs/darkmatter-go/internal/config"
	"github.com/darkmatter-labs/darkmatter-go/internal/inference"
	"github.com/darkmatter-labs/darkmatter-go/internal/ledger"
	"github.com/darkmatter-labs/darkmatter-go/internal/platform/env"
	"github.com/darkmatter-labs/darkmatter-go/internal/platform/httpserver"
	"github.com/darkmatter-labs/darkmatter-go/internal/platform/objectstore"
	"github.com/darkmatter-labs/darkmatter-go/internal/platform/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("SIMULATOR_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("SIMULATOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	cfg, err := config.Load(env.String("DMS_CONFIG", "simulator.yaml"))
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	recorder, db, err := buildRecorder(ctx)
	if err != nil {
		logger.Error("run ledger unavailable", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	runner, err := inference.NewRunner(logger, inference.Config{
		WorkDir: cfg.WorkDir,
		Command: cfg.ModelCommand,
		Timeout: cfg.InferenceTimeout,
	}, recorder)
	if err != nil {
		logger.Error("invalid inference config", "error", err)
		os.Exit(2)
	}

	cache, err := inference.NewPrecomputeCache(logger, runner)
	if err != nil {
		logger.Error("invalid cache config", "error", err)
		os.Exit(2)
	}

	resolver, err := buildResolver(ctx, logger, cfg)
	if err != nil {
		logger.Error("invalid resolver config", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz("simulator"))

	checks := []httpserver.ReadinessCheck{
		{
			Name: "workdir",
			Check: func(context.Context) error {
				info, err := os.Stat(cfg.WorkDir)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					return fmt.Errorf("not a directory: %s", cfg.WorkDir)
				}
				return nil
			},
		},
	}
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	}
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks("simulator", checks...))

	api := newSimulatorAPI(logger, resolver, cache)
	api.register(mux)

	serverCfg := httpserver.Config{
		Service:         "simulator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, "simulator", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildRecorder returns the open database alongside the recorder so main
// can close it and wire the readiness ping. A nil db means the ledger is
// disabled.
func buildRecorder(ctx context.Context) (ledger.Recorder, *sql.DB, error) {
	dbCfg, ok, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return ledger.NopRecorder{}, nil, nil
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	recorder, err := ledger.NewPostgresRecorder(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return recorder, db, nil
}

func buildResolver(ctx context.Context, logger *slog.Logger, cfg config.Config) (*artifact.Resolver, error) {
	sources := []artifact.Source{artifact.LocalSource{Dir: cfg.ArtifactDir}}
	if cfg.RemoteBaseURL != "" {
		sources = append(sources, artifact.NewRemoteSource(cfg.RemoteBaseURL))
	}
	if cfg.ObjectStore {
		osCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		client, err := objectstore.NewClient(osCfg)
		if err != nil {
			return nil, err
		}
		if err := objectstore.CheckBucket(ctx, client, osCfg); err != nil {
			return nil, err
		}
		sources = append(sources, artifact.ObjectStoreSource{Client: client, Bucket: osCfg.Bucket})
	}
	return artifact.NewResolver(logger, sources...)
}
