package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/auth"
	"cryptoexecutor/src/metrics"
)

// Routes are the operator handlers mounted behind the token check.
type Routes struct {
	Audit http.HandlerFunc
}

func NewRouter(cfg *Config, routes Routes) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Handle("/metrics", metrics.Handler())

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(cfg.AdminToken))
		if routes.Audit != nil {
			r.Get("/audit", routes.Audit)
		}
	})
	return r
}

// StartServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, port string, handler http.Handler) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
