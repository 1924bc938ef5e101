package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"wavelink/pkg/model"
	"wavelink/pkg/userstore"
)

// maxBodyBytes caps request bodies on the JSON API. Register and login carry
// a single short username.
const maxBodyBytes = 1 << 10

// gin's mode is process-global.
var ginModeOnce sync.Once

// Handler builds the HTTP surface: the JSON API, health and stats endpoints,
// and the websocket upgrade.
func (s *Server) Handler() http.Handler {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	api.Use(s.rateLimitMiddleware())
	api.POST("/register", limitBody(maxBodyBytes), s.handleRegister)
	api.POST("/login", limitBody(maxBodyBytes), s.handleLogin)
	api.GET("/users", s.handleUsers)
	api.GET("/stats", s.handleStats)

	if s.cfg.StaticDir != "" {
		r.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.cfg.StaticDir))))
	}

	return r
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// limitBody rejects oversized request bodies with 413.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// rateLimitMiddleware enforces the per-IP request budget and reports the
// remaining quota in response headers.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.httpLimiter.Check(c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.Itoa(s.httpLimiter.Max()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(res.ResetIn))
		if !res.Allowed {
			s.metrics.RateLimitRejected.Add(1)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests",
				"resetIn": res.ResetIn,
			})
			return
		}
		c.Next()
	}
}

type usernameRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req usernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": "Invalid request body"})
		return
	}

	username, err := model.NormalizeUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.store.Create(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, userstore.ErrExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}
		slog.Error("register failed", "username", username, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	slog.Info("user registered", "username", username)
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req usernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": "Invalid request body"})
		return
	}

	username, err := model.NormalizeUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.store.Get(c.Request.Context(), username)
	if err != nil {
		slog.Error("login lookup failed", "username", username, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if err := s.store.TouchLogin(c.Request.Context(), username); err != nil {
		slog.Warn("touch login failed", "username", username, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) handleUsers(c *gin.Context) {
	names, err := s.store.ListUsernames(c.Request.Context())
	if err != nil {
		slog.Error("list users failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"users": names})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online":  s.registry.Count(),
		"metrics": s.metrics.Snapshot(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "online": s.registry.Count()})
}

// handleWS upgrades the connection and hands it to the router's read loop.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", c.ClientIP(), "err", err)
		return
	}
	conn.SetReadLimit(maxWSMessageBytes)
	s.router.Serve(s.ctx, conn, c.ClientIP())
}
