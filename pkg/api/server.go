// Package api exposes the job engine over HTTP (gin): push/schedule,
// fetch-by-id, cancel, and operator introspection (queue stats, live
// consumers). Every handler reads or writes through the same
// pkg/store.Store a worker uses; the API never holds a second copy of
// the data.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"forgequeue/pkg/api/middleware"
	"forgequeue/pkg/auth"
	"forgequeue/pkg/coordination"
	"forgequeue/pkg/store"
)

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	backend     store.Store
	coordinator coordination.Coordinator

	defaultMaxAttempts int
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Backend     store.Store
	Coordinator coordination.Coordinator // optional
	JWTService  *auth.JWTService         // optional; nil disables JWT auth
	APIKeyStore auth.APIKeyStore         // optional; nil disables API key auth
	AuthEnabled bool
	Log         *zap.Logger

	// DefaultMaxAttempts is used for a POST /v1/jobs request that omits
	// max_attempts. Falls back to 5 if zero (see configs.Config.MaxRetries).
	DefaultMaxAttempts int
}

// NewServer creates a new API server with all dependencies wired.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("forgequeue-api"))
	router.Use(requestLogger(log))
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	if cfg.AuthEnabled {
		router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			JWTService:  cfg.JWTService,
			APIKeyStore: cfg.APIKeyStore,
			SkipPaths:   []string{"/healthz", "/metrics"},
		}))
	}

	defaultMaxAttempts := cfg.DefaultMaxAttempts
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 5
	}

	s := &Server{
		router:             router,
		log:                log,
		backend:            cfg.Backend,
		coordinator:        cfg.Coordinator,
		defaultMaxAttempts: defaultMaxAttempts,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("api: starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("api: shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/jobs", s.createJob)
		v1.GET("/jobs/:id", s.getJob)
		v1.POST("/jobs/:id/cancel", s.cancelJob)

		v1.GET("/queues/:namespace/stats", s.queueStats)
		v1.GET("/queues/:namespace/nodes", s.queueNodes)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("api: request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// healthCheck reports liveness. It deliberately does not probe the
// backend: a momentarily unreachable store should not fail a
// liveness probe and trigger an unnecessary restart.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
