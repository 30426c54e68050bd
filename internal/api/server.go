package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RitaChen0/QuantLab-sub000/internal/cache"
	"github.com/RitaChen0/QuantLab-sub000/internal/config"
	"github.com/RitaChen0/QuantLab-sub000/internal/database"
	"github.com/RitaChen0/QuantLab-sub000/internal/lifecycle"
	"github.com/RitaChen0/QuantLab-sub000/internal/logging"
	"github.com/RitaChen0/QuantLab-sub000/internal/middleware"
	"github.com/RitaChen0/QuantLab-sub000/internal/monitoring"
)

// Server represents the HTTP API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *logging.Logger

	db      *database.DB
	cache   cache.Cacher
	repo    lifecycle.Repository
	manager *lifecycle.Manager
	metrics *monitoring.Metrics
}

// NewServer wires the API surface over already constructed services
func NewServer(cfg *config.Config, db *database.DB, c cache.Cacher, repo lifecycle.Repository, manager *lifecycle.Manager, metrics *monitoring.Metrics, logger *logging.Logger) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		logger:  logger,
		db:      db,
		cache:   c,
		repo:    repo,
		manager: manager,
		metrics: metrics,
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.ErrorHandler(s.logger))
	s.router.Use(corsMiddleware())
	s.router.Use(s.metrics.MetricsMiddleware())

	if s.config.Monitoring.PrometheusEnabled {
		path := s.config.Monitoring.PrometheusPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(monitoring.PrometheusHandler()))
	}

	h := NewBacktestHandler(s.repo, s.manager, s.logger)
	limiter := middleware.NewRateLimiter(s.config.RateLimit)

	v1 := s.router.Group("/api/v1")
	{
		backtests := v1.Group("/backtests")
		{
			backtests.POST("", h.Create)
			backtests.GET("", h.List)
			backtests.GET("/:id", h.Get)
			backtests.PUT("/:id", h.Update)
			backtests.DELETE("/:id", h.Delete)

			backtests.POST("/:id/submit", limiter.Middleware(), h.Submit)
			backtests.GET("/:id/tasks/:task_id", h.Poll)
			backtests.POST("/:id/cancel", h.Cancel)
			backtests.GET("/:id/result", h.Result)
		}
	}

	s.router.GET("/health", s.healthCheck)
}

func (s *Server) healthCheck(c *gin.Context) {
	dbHealth := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(c.Request.Context()); err != nil {
			dbHealth = "error"
		}
	} else {
		dbHealth = "unavailable"
	}

	cacheHealth := "ok"
	if s.cache != nil {
		if err := s.cache.HealthCheck(c.Request.Context()); err != nil {
			cacheHealth = "error"
		}
	} else {
		cacheHealth = "unavailable"
	}

	status := http.StatusOK
	if dbHealth == "error" || cacheHealth == "error" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": "ok",
		"services": gin.H{
			"database": dbHealth,
			"cache":    cacheHealth,
		},
	})
}

// Start starts the HTTP server and blocks until it exits
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.WithFields(logging.Fields{
		"host": s.config.Server.Host,
		"port": s.config.Server.Port,
	}).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
