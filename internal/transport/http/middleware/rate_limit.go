package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	appLogger "github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
)

// RateLimitedCode is the error_code of a 429 response.
const RateLimitedCode = "RATE_LIMITED"

// RateLimitRule is a sliding-window limit applied per client IP.
type RateLimitRule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Decision is the outcome of evaluating a rule for one identifier.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// RateLimiter enforces sliding-window rules against a shared store so limits
// hold across every API replica.
type RateLimiter struct {
	store   port.RateLimitStore
	logger  *zap.Logger
	metrics *HTTPMetrics
	now     func() time.Time
}

// NewRateLimiter builds a limiter over store. metrics may be nil.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger, metrics *HTTPMetrics) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// Check evaluates rule for identifier and records the attempt when allowed.
func (rl *RateLimiter) Check(ctx context.Context, rule RateLimitRule, identifier string) (Decision, error) {
	key := rule.Name + ":" + identifier
	now := rl.now()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return Decision{}, err
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return Decision{}, err
	}
	oldest, hasAttempts, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{Limit: rule.Limit, Reset: now.Add(rule.Window)}
	if hasAttempts {
		decision.Reset = oldest.Add(rule.Window)
	}

	if count >= rule.Limit {
		decision.RetryAfter = decision.Reset.Sub(now)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
		return decision, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return Decision{}, err
	}
	decision.Allowed = true
	decision.Remaining = rule.Limit - count - 1
	return decision, nil
}

// Limit returns a Gin middleware enforcing rule per client IP. Store failures
// let the request through.
func (rl *RateLimiter) Limit(rule RateLimitRule) gin.HandlerFunc {
	if rl == nil || rl.store == nil || rule.Limit <= 0 || rule.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ip := Metadata(c).IP
		decision, err := rl.Check(c.Request.Context(), rule, ip)
		if err != nil {
			appLogger.FromContext(c.Request.Context(), rl.logger).Warn("rate limit check failed",
				zap.String("rule", rule.Name),
				zap.String("client_ip", appLogger.MaskIP(ip)),
				zap.Error(err),
			)
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(retry))
			rl.metrics.observeRateLimited(rule.Name)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", retry),
				ErrorCode: RateLimitedCode,
				RequestID: GetRequestID(c),
			})
			return
		}

		c.Next()
	}
}
