// Package server assembles the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/health"
	middleware "github.com/mohammed-shakir/geoportal-viewer/internal/core/middleware"
)

type Routes struct {
	Views    http.Handler // mounted at /api/v1/views
	MapProxy http.Handler // mounted at /api/v1/proxy/mapserver/*
	Metrics  http.Handler // nil disables /metrics
	Ready    map[string]health.Checker
}

func NewRouter(logger *slog.Logger, rt Routes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rt.Ready))
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}
	if rt.Views != nil {
		r.Mount("/api/v1/views", rt.Views)
	}
	if rt.MapProxy != nil {
		r.Handle("/api/v1/proxy/mapserver/*", rt.MapProxy)
	}
	return r
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
