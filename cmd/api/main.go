// Package main implements the nexus API server.
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

	"github.com/intellia-labs/nexus/engine/runtime"
	"github.com/intellia-labs/nexus/pkg/config"
	"github.com/intellia-labs/nexus/pkg/metrics"
	"github.com/intellia-labs/nexus/pkg/mid"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg, err := config.Load(envOr("NEXUS_CONFIG", ""))
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.Open(ctx, cfg, runtime.Options{}, logger)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Error("runtime close", "err", err)
		}
	}()

	if err := rt.ServeNATS(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      newHandler(newServer(rt, logger), rt.Registry, cfg.HTTP.CORSOrigin, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RAG.CompletionTimeout + cfg.RAG.EmbedTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.HTTP.Port, "graph_ready", rt.GraphReady)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newHandler mounts the routes and wraps them in the middleware chain. OTel
// is outermost so the logger sees the route pattern the mux sets.
func newHandler(s *server, reg *metrics.Registry, corsOrigin string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}
	return mid.Chain(mux,
		mid.OTel("nexus-api"),
		mid.RequestID(),
		mid.Logger(logger, reg),
		mid.Recover(logger),
		mid.CORS(corsOrigin),
	)
}
