package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hlspackager/internal/broadcast"
	"hlspackager/internal/catalog"
	"hlspackager/internal/config"
	"hlspackager/internal/handlers"
	"hlspackager/internal/jobs"
	"hlspackager/internal/logging"
	"hlspackager/internal/transcoder"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := catalog.New(cfg.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	engine := transcoder.NewService(logger, transcoder.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	})

	var mirrors []broadcast.Mirror
	if cfg.RedisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		mirror, err := broadcast.NewRedisMirror(dialCtx, cfg.RedisURL, cfg.RedisChannel)
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis mirror: %w", err)
		}
		defer mirror.Close()
		mirrors = append(mirrors, mirror)
		logger.Info("mirroring job events to redis", "channel", cfg.RedisChannel)
	}
	hub := broadcast.NewHub(logger, 0, mirrors...)

	orchestrator := jobs.NewOrchestrator(logger, engine, store, hub, jobs.Config{
		OutputsDir: cfg.OutputsDir,
		Profile:    transcoder.DefaultProfile(),
		Timeout:    cfg.TranscodeTimeout,
	})
	orchestrator.StartCleanupLoop(ctx, cfg.CleanupInterval, cfg.JobRetention)

	app := handlers.NewApp(logger, orchestrator, store, hub, handlers.Options{
		UploadsDir:     cfg.UploadsDir,
		OutputsDir:     cfg.OutputsDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	// Uploads can take minutes, so only the header read is bounded.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			_ = srv.Close()
		}
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			logger.Error("jobs did not stop in time", "error", err)
		}
		logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}
