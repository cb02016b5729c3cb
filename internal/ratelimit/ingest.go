package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/smallbiznis/telemetry/internal/observability/metrics"
	"go.uber.org/fx"
)

const (
	keyIngestProject  = "telemetry:ingest:project:%s"
	keyIngestEndpoint = "telemetry:ingest:endpoint:%s"

	ReasonProject  = "project"
	ReasonEndpoint = "endpoint"
)

// Decision is the outcome of an ingest admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type IngestLimiter struct {
	bucket  *TokenBucket
	metrics *metrics.Metrics

	projectRate   float64
	projectBurst  int
	endpointRate  float64
	endpointBurst int
}

type Params struct {
	fx.In

	Config  config.Config
	Redis   *redis.Client    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// NewIngestLimiter returns nil when rate limiting is disabled.
func NewIngestLimiter(p Params) (*IngestLimiter, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}
	if p.Redis == nil {
		return nil, errors.New("rate limiting requires REDIS_ADDR")
	}
	if cfg.IngestProjectRate <= 0 || cfg.IngestProjectBurst <= 0 {
		return nil, errors.New("ingest project rate limit must be positive")
	}
	if cfg.IngestEndpointRate <= 0 || cfg.IngestEndpointBurst <= 0 {
		return nil, errors.New("ingest endpoint rate limit must be positive")
	}

	return &IngestLimiter{
		bucket:        NewTokenBucket(p.Redis),
		metrics:       p.Metrics,
		projectRate:   cfg.IngestProjectRate,
		projectBurst:  cfg.IngestProjectBurst,
		endpointRate:  cfg.IngestEndpointRate,
		endpointBurst: cfg.IngestEndpointBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow checks the endpoint-wide bucket for the counter, then the project bucket.
func (l *IngestLimiter) Allow(ctx context.Context, projectID, counterName string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	endpoint := "meters/" + strings.TrimSpace(counterName)

	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyIngestEndpoint, strings.TrimSpace(counterName)), l.endpointRate, l.endpointBurst)
	if err != nil {
		return Decision{}, err
	}
	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, projectID, endpoint, ReasonEndpoint)
		return decision(res, ReasonEndpoint), nil
	}

	if projectID = strings.TrimSpace(projectID); projectID != "" {
		res, err = l.bucket.Allow(ctx, fmt.Sprintf(keyIngestProject, projectID), l.projectRate, l.projectBurst)
		if err != nil {
			return Decision{}, err
		}
		if !res.Allowed {
			l.metrics.RecordRateLimitDenied(ctx, projectID, endpoint, ReasonProject)
			return decision(res, ReasonProject), nil
		}
	}

	l.metrics.RecordRateLimitAllowed(ctx, projectID, endpoint)
	return decision(res, ""), nil
}

func decision(res Result, reason string) Decision {
	return Decision{
		Allowed:    res.Allowed,
		Reason:     reason,
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}
}
