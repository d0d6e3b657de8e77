// Package httpapi exposes the ordering workflow and the extension
// registry over HTTP. Routing and sessions stay thin here; the domain
// rules live in the services this package calls.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"luna-dine/internal/extension"
	"luna-dine/internal/order"
	"luna-dine/pkg/config"
	"luna-dine/pkg/logger"
)

const shutdownWait = 10 * time.Second

type Server struct {
	mux      *http.ServeMux
	srv      *http.Server
	cfg      *config.HTTP
	workflow *order.Workflow
	registry *extension.Registry
	log      *logger.Logger
	ctx      context.Context
}

func NewServer(ctx context.Context, cfg *config.HTTP, workflow *order.Workflow, registry *extension.Registry, log *logger.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		cfg:      cfg,
		workflow: workflow,
		registry: registry,
		log:      log,
		ctx:      ctx,
	}
	s.configure()
	return s
}

func (s *Server) configure() {
	s.mux.HandleFunc("GET /cart", s.handleGetCart)
	s.mux.HandleFunc("POST /cart/items", s.handleAddToCart)
	s.mux.HandleFunc("DELETE /cart/items/{index}", s.handleRemoveFromCart)
	s.mux.HandleFunc("DELETE /cart", s.handleClearCart)

	s.mux.HandleFunc("POST /orders", s.handlePlaceOrder)
	s.mux.HandleFunc("GET /orders/{number}", s.handleGetOrder)
	s.mux.HandleFunc("PATCH /orders/{id}/status", s.handleUpdateStatus)

	s.mux.HandleFunc("GET /extensions", s.handleListExtensions)
	s.mux.HandleFunc("POST /extensions/{name}/enable", s.handleEnableExtension)
	s.mux.HandleFunc("POST /extensions/{name}/disable", s.handleDisableExtension)
}

// Run starts listening and returns when the context is cancelled or the
// listener fails.
func (s *Server) Run() error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.Port),
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		} else {
			errCh <- nil
		}
	}()

	s.log.Info("startup", "server_started",
		fmt.Sprintf("HTTP server listening on :%s", s.cfg.Port))

	select {
	case <-s.ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop() error {
	s.log.Info("", "graceful_shutdown_started", "Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("", "graceful_shutdown_failed", "Failed to shut down HTTP server gracefully", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.log.Info("", "graceful_shutdown_completed", "HTTP server shut down gracefully")
	return nil
}
