package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/health"
	middleware "github.com/mohammed-shakir/geoswarm/internal/core/middleware"
	"github.com/mohammed-shakir/geoswarm/internal/core/router"
)

// Deps are the read-side services the API exposes.
type Deps struct {
	Features router.FeatureGetter
	Query    router.Querier
	Ready    health.ReadinessReporter
	Version  string
}

func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness(d.Version))
	r.Get("/readyz", health.Readiness(d.Ready))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/features/{id}", router.HandleFeature(logger, d.Features))
	r.Get("/query", router.HandleQuery(logger, cfg, d.Query))
	return r
}

// Run serves the API on cfg.HTTPAddr until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, logger, d)
}

func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
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
