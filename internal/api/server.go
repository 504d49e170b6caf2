// Package api exposes the operations server: read routes for engine,
// hedge and allocator state, and JWT-protected mutating routes for
// signal submission and manual closes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/auth"
	"futures-hedge-bot/internal/circuit"
	"futures-hedge-bot/internal/database"
	"futures-hedge-bot/internal/engine"
	"futures-hedge-bot/internal/logging"
)

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerDeps carries the collaborators the handlers read from and act on.
type ServerDeps struct {
	Engine    *engine.Engine
	Allocator *allocator.Allocator
	Breaker   *circuit.Breaker
	History   *database.DB // nil when persistence is disabled
	Auth      *auth.Manager // nil disables auth on mutating routes
}

// Server is the HTTP operations server.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	deps       ServerDeps
	limiter    *RateLimiter
	startedAt  time.Time
	log        *logging.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(cfg config.ServerConfig, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	origins := strings.TrimSpace(cfg.AllowedOrigins)
	if origins == "" || origins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		var allowed []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowed = append(allowed, o)
			}
		}
		corsConfig.AllowOrigins = allowed
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		router:    router,
		deps:      deps,
		limiter:   NewRateLimiter(60, time.Minute),
		startedAt: time.Now(),
		log:       logging.Default().WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

// Router returns the underlying gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/api/auth/login", s.handleLogin)
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.deps.Auth != nil})
	})

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/hedge/status", s.handleHedgeStatus)
	api.GET("/hedge/events", s.handleHedgeEvents)
	api.GET("/allocator", s.handleAllocator)
	api.GET("/attempts", s.handleAttempts)
	api.GET("/trades", s.handleTrades)

	mutating := s.router.Group("/api")
	mutating.Use(s.rateLimitMiddleware(), s.requestLogger(), auth.Middleware(s.deps.Auth))
	mutating.POST("/signal", s.handleSubmitSignal)
	mutating.POST("/refresh", s.handleRefresh)
	mutating.POST("/positions/:id/close", s.handleClosePosition)
	mutating.POST("/breaker/reset", s.handleBreakerReset)
}

// requestLogger stores a request-scoped logger in the request context
// so mutating handlers log with the method and path attached.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := s.log.WithFields(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		c.Request = c.Request.WithContext(logging.NewContext(c.Request.Context(), l))
		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.limiter.Allow(path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server until Shutdown. It blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	readTimeout := time.Duration(s.cfg.ReadTimeoutSecs) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.cfg.WriteTimeoutSecs) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// errorResponse sends a uniform error payload.
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}
