package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// admitIngest aborts the request and returns false when the ingest limiter denies it.
func (s *Server) admitIngest(c *gin.Context, projectID, counterName string) bool {
	if !s.limiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	decision, err := s.limiter.Allow(ctx, projectID, counterName)
	if err != nil {
		s.log.Warn("ingest rate limit check failed", zap.Error(err), zap.String("counter_name", counterName))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	s.log.Warn("ingest rate limit exceeded",
		zap.String("reason", decision.Reason),
		zap.String("counter_name", counterName),
	)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", decision.Reason)
	AbortWithError(c, ErrRateLimited)
	return false
}
