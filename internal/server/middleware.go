package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterCleanupInterval = 5 * time.Minute

// observeRequests logs one line per request and feeds the latency histogram.
func observeRequests(logger *zap.Logger, recorder *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		if recorder != nil {
			recorder.ObserveRequest(c.Request.Method, c.FullPath(), status, elapsed)
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// clientRateLimiter keeps one token bucket per client IP.
type clientRateLimiter struct {
	limiters    sync.Map
	limit       rate.Limit
	burst       int
	perMinute   int
	logger      *zap.Logger
	mu          sync.Mutex
	lastCleanup time.Time
}

func newClientRateLimiter(perMinute int, logger *zap.Logger) *clientRateLimiter {
	return &clientRateLimiter{
		limit:       rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		burst:       perMinute,
		perMinute:   perMinute,
		logger:      logger,
		lastCleanup: time.Now(),
	}
}

func (l *clientRateLimiter) limiter(key string) *rate.Limiter {
	if existing, ok := l.limiters.Load(key); ok {
		return existing.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	l.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops buckets that have refilled completely.
func (l *clientRateLimiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCleanup) < limiterCleanupInterval {
		return
	}
	l.lastCleanup = time.Now()
	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

func (l *clientRateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		limiter := l.limiter(key)
		if limiter.Allow() {
			c.Next()
			return
		}

		reservation := limiter.Reserve()
		retryAfter := max(int(reservation.Delay().Seconds()), 1)
		reservation.Cancel()

		l.logger.Warn("rate limit exceeded",
			zap.String("client_ip", key),
			zap.String("path", c.Request.URL.Path),
			zap.Int("retry_after_s", retryAfter),
		)
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", l.perMinute))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(messageRateLimited, codeRateLimited))
	}
}
