package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/logger"
)

// Config holds the gateway server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimit is the per-source-IP webhook request budget per minute
	RateLimit int
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	handler    Handler
	limiter    adapter.RedisRateLimiter
	httpServer *http.Server
}

// New creates a new gateway server
func New(cfg Config, handler Handler, limiter adapter.RedisRateLimiter) *Server {
	return &Server{
		config:  cfg,
		handler: handler,
		limiter: limiter,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.Use(SetupCORS())

	setupRoutes(router, s.handler, s.limiter, s.config.RateLimit)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("starting webhook gateway",
		zap.String("address", addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down webhook gateway")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}

// setupRoutes configures all gateway routes
func setupRoutes(router *gin.Engine, handler Handler, limiter adapter.RedisRateLimiter, rateLimit int) {
	// Health check endpoint (no rate limit, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// Webhook intake (signature verified in handlers, throttled per source IP)
	webhooks := router.Group("/webhooks/pool")
	if limiter != nil && rateLimit > 0 {
		webhooks.Use(RateLimit(limiter, rateLimit))
	}
	{
		webhooks.POST("/event", handler.ReceiveEvent)
		webhooks.POST("/batch", handler.ReceiveBatch)
	}

	// Read API (public read access)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/pools", handler.ListPools)
		v1.GET("/pools/:id", handler.GetPool)
		v1.GET("/pools/:id/positions/:address", handler.GetPosition)
		v1.GET("/transactions", handler.ListTransactions)
		v1.GET("/locked-positions", handler.ListLockedPositions)
		v1.GET("/failed-events", handler.ListFailedEvents)
	}
}
