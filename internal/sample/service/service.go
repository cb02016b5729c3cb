package service

import (
	"context"
	"time"

	"github.com/smallbiznis/telemetry/internal/clock"
	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/smallbiznis/telemetry/internal/keylock"
	"github.com/smallbiznis/telemetry/internal/observability/logger"
	"github.com/smallbiznis/telemetry/internal/observability/metrics"
	"github.com/smallbiznis/telemetry/internal/publisher"
	"github.com/smallbiznis/telemetry/internal/resource/aggregator"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/smallbiznis/telemetry/internal/sample/liveevents"
	"github.com/smallbiznis/telemetry/internal/sample/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const publishTimeout = 2 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Validator  *validator.Validator
	Repo       sampledomain.Repository
	Aggregator *aggregator.Aggregator
	Locker     keylock.Locker
	Metrics    *metrics.Metrics    `optional:"true"`
	LiveEvents *liveevents.Hub     `optional:"true"`
	Publisher  publisher.Publisher `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	validator  *validator.Validator
	repo       sampledomain.Repository
	aggregator *aggregator.Aggregator
	locker     keylock.Locker
	lockWait   time.Duration
	metrics    *metrics.Metrics
	liveEvents *liveevents.Hub
	publisher  publisher.Publisher
	clock      clock.Clock
}

func NewService(p Params) sampledomain.Service {
	pub := p.Publisher
	if pub == nil {
		pub = publisher.Noop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("sample.service"),
		validator:  p.Validator,
		repo:       p.Repo,
		aggregator: p.Aggregator,
		locker:     p.Locker,
		lockWait:   p.Config.Lock.Wait,
		metrics:    p.Metrics,
		liveEvents: p.LiveEvents,
		publisher:  pub,
		clock:      clock.OrSystem(p.Clock),
	}
}

// Ingest validates the whole batch, then appends and aggregates it in one
// transaction while holding the locks of every resource it touches.
// Nothing is stored unless every sample is accepted.
func (s *Service) Ingest(ctx context.Context, req sampledomain.IngestRequest) ([]sampledomain.Sample, error) {
	start := s.clock.Now()
	log := logger.WithContext(ctx, s.log).With(
		zap.String("counter_name", req.CounterName),
		zap.Int("batch_size", len(req.Samples)),
		zap.Bool("direct", req.Direct),
	)

	samples, err := s.validator.ValidateBatch(req.Samples, start.UTC())
	if err != nil {
		s.metrics.RecordRejected(ctx, req.CounterName, "validation")
		return nil, err
	}
	for i, sample := range samples {
		if sample.CounterName != req.CounterName {
			s.metrics.RecordRejected(ctx, req.CounterName, "validation")
			return nil, &validator.ValidationError{
				Index: i,
				Field: "counter_name",
				Code:  validator.CodeMismatch,
				Err:   sampledomain.ErrCounterMismatch,
			}
		}
	}

	resourceIDs := make([]string, 0, len(samples))
	for _, sample := range samples {
		resourceIDs = append(resourceIDs, sample.ResourceID)
	}
	unlock, err := s.lock(ctx, resourceIDs)
	if err != nil {
		s.metrics.RecordRejected(ctx, req.CounterName, "lock")
		log.Warn("resource locks not acquired", zap.Error(err))
		return nil, err
	}
	defer unlock()

	var (
		stored    []sampledomain.Sample
		resources []resourcedomain.Resource
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		if stored, txErr = s.repo.Append(ctx, tx, samples); txErr != nil {
			return txErr
		}
		resources, txErr = s.aggregator.ApplyBatch(ctx, tx, stored)
		return txErr
	})
	if err != nil {
		s.metrics.RecordRejected(ctx, req.CounterName, "storage")
		log.Error("ingest transaction failed", zap.Error(err))
		return nil, err
	}
	unlock()

	s.metrics.RecordIngest(ctx, req.CounterName, len(stored), len(resources), s.clock.Now().Sub(start))
	s.liveEvents.Publish(stored...)
	s.fanOut(ctx, log, stored)

	log.Debug("samples ingested", zap.Int("resources", len(resources)))
	return stored, nil
}

func (s *Service) lock(ctx context.Context, resourceIDs []string) (keylock.Unlock, error) {
	if s.lockWait <= 0 {
		return s.locker.Lock(ctx, resourceIDs)
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	return s.locker.Lock(lockCtx, resourceIDs)
}

// fanOut never fails the request: samples are already committed.
func (s *Service) fanOut(ctx context.Context, log *zap.Logger, stored []sampledomain.Sample) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, stored); err != nil {
		s.metrics.RecordPublishFailure(ctx, "amqp")
		log.Warn("sample publish failed", zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, filter sampledomain.Filter) ([]sampledomain.Sample, error) {
	if filter.CounterName == "" {
		return nil, sampledomain.ErrInvalidCounterName
	}
	if filter.Limit < 0 {
		return nil, sampledomain.ErrInvalidFilter
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Statistics(ctx context.Context, filter sampledomain.Filter) (sampledomain.Statistics, error) {
	if filter.CounterName == "" {
		return sampledomain.Statistics{}, sampledomain.ErrInvalidCounterName
	}
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return sampledomain.Statistics{}, sampledomain.ErrInvalidFilter
	}
	return s.repo.Statistics(ctx, s.db, filter)
}
