package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"derbyflow/internal/logging"
)

// Handler returns the worker's HTTP surface.
func (w *Worker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", w.handleHealth)
	return r
}

// ServeHealth listens on bind and serves Handler until ctx ends. An empty
// bind disables the endpoint.
func (w *Worker) ServeHealth(ctx context.Context, bind string) error {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("health listen: %w", err)
	}
	server := &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("health server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	w.logger.Info("health endpoint listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (w *Worker) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	status := w.Status()
	code := http.StatusOK
	if !status.Running {
		code = http.StatusServiceUnavailable
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(status); err != nil {
		w.logger.Error("failed to encode health response", logging.Error(err))
	}
}
