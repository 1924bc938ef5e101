// Package server implements the wavelink coordination server: a websocket
// presence and signaling hub plus a small HTTP API for registration and
// login. Audio never touches the server; clients negotiate peer links
// directly and the server only relays the opaque negotiation payloads.
package server

import (
	"context"
	"net/http"

	"wavelink/pkg/logging"
	"wavelink/pkg/ratelimit"
	"wavelink/pkg/userstore"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store *userstore.Store
}

// Server is the wavelink coordination server.
type Server struct {
	cfg      Config
	registry *Registry
	store    *userstore.Store
	metrics  *Metrics

	httpLimiter *ratelimit.Limiter
	wsLimiter   *ratelimit.Limiter

	router  *Router
	monitor *HeartbeatMonitor

	httpSrv *http.Server
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		registry:    NewRegistry(logging.Component("registry")),
		store:       deps.Store,
		metrics:     NewMetrics(),
		httpLimiter: ratelimit.New(cfg.HTTPRateWindow, cfg.HTTPRateLimit),
		wsLimiter:   ratelimit.New(cfg.WSRateWindow, cfg.WSRateLimit),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.router = NewRouter(s.registry, s.store, s.wsLimiter, s.metrics,
		logging.Component("router"))
	s.monitor = NewHeartbeatMonitor(s.registry, s.metrics, cfg.HeartbeatTimeout, cfg.SweepInterval)
	return s
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
