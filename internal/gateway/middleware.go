package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/logger"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-Id"

// RequestID returns a gin middleware that assigns each request a ULID unless
// the caller already supplied one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// RequestLogger returns a gin middleware for structured logging using zap
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("gateway request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// Recovery returns a gin middleware for panic recovery with logging
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(fmt.Errorf("panic recovered: %v", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// SetupCORS configures CORS middleware with fully open settings
// FIXME: In production, we should restrict this.
func SetupCORS() gin.HandlerFunc {
	config := cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", SignatureHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           time.Hour,
	}
	return cors.New(config)
}

// RateLimit returns a gin middleware enforcing a distributed per-source-IP
// request budget on the webhook intake. When Redis itself is down the
// middleware lets traffic through; throttling is protection, not correctness.
func RateLimit(limiter adapter.RedisRateLimiter, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "pool:indexer:webhook:" + c.ClientIP()

		res, err := limiter.Allow(c.Request.Context(), key, redis_rate.PerMinute(perMinute))
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		if res.Allowed == 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
