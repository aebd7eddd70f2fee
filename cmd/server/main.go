package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batch-orchestrator/api/rest/routes"
	"batch-orchestrator/config"
	"batch-orchestrator/core/batch"
	"batch-orchestrator/core/executor"
	"batch-orchestrator/core/generator"
	"batch-orchestrator/core/repository"
	"batch-orchestrator/logging"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("BATCH_CONFIG"), "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The archive is optional; without it jobs live only in memory
	var (
		db       *repository.DB
		recorder executor.Recorder
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = repository.NewDB(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		recorder = repository.NewJobRepository(db)
		logger.Info("job archive connected", "driver", db.Driver())
	}

	svc := batch.NewFromConfig(cfg, generator.NewEffectGenerator(), recorder, logger)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	r := mux.NewRouter()
	routes.SetupRoutes(r, svc, db)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("server exited")
	return err
}
