package server

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

	"github.com/coder/websocket"
)

// Run starts the server and blocks until a shutdown signal arrives.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.Close() }()

	s.monitor.Start(s.ctx)
	s.httpLimiter.StartCleanup(s.cfg.LimiterCleanupInterval, s.ctx.Done())
	s.wsLimiter.StartCleanup(s.cfg.LimiterCleanupInterval, s.ctx.Done())
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("wavelink server listening", "addr", s.cfg.Addr, "db", s.cfg.DBPath)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.Shutdown()
		return fmt.Errorf("server: listen: %w", err)
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		s.Shutdown()
		return nil
	}
}

// Shutdown gracefully stops the server: sessions get a clean close, then the
// HTTP listener drains.
func (s *Server) Shutdown() {
	for _, sess := range s.registry.Snapshot() {
		s.registry.Remove(sess.UserID)
		sess.Close(websocket.StatusNormalClosure, "server shutting down")
	}
	s.cancel()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}
}
