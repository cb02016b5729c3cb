// Package aggregator folds accepted samples into the resource view.
// It is the only writer of resources and resource meters.
package aggregator

import (
	"context"
	"sort"
	"time"

	"github.com/smallbiznis/telemetry/internal/clock"
	"github.com/smallbiznis/telemetry/internal/observability/logger"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Repo  resourcedomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Aggregator struct {
	log   *zap.Logger
	repo  resourcedomain.Repository
	clock clock.Clock
}

func New(p Params) *Aggregator {
	return &Aggregator{
		log:   p.Log.Named("resource.aggregator"),
		repo:  p.Repo,
		clock: clock.OrSystem(p.Clock),
	}
}

// Apply folds one sample into its resource. tx must be the ingestion transaction.
func (a *Aggregator) Apply(ctx context.Context, tx *gorm.DB, sample sampledomain.Sample) (resourcedomain.Resource, error) {
	current, err := a.repo.GetForUpdate(ctx, tx, sample.ResourceID)
	if err != nil {
		return resourcedomain.Resource{}, err
	}

	next := Fold(current, sample, a.clock.Now().UTC())
	if err := a.repo.Upsert(ctx, tx, &next); err != nil {
		return resourcedomain.Resource{}, err
	}

	meter := resourcedomain.Meter{
		ResourceID:  sample.ResourceID,
		CounterName: sample.CounterName,
		CounterType: string(sample.CounterType),
		CounterUnit: sample.CounterUnit,
		ProjectID:   sample.ProjectID,
		UserID:      sample.UserID,
		Source:      sample.Source,
		CreatedAt:   next.UpdatedAt,
		UpdatedAt:   next.UpdatedAt,
	}
	if err := a.repo.UpsertMeter(ctx, tx, &meter); err != nil {
		return resourcedomain.Resource{}, err
	}

	if current == nil {
		logger.WithResource(a.log, sample.ResourceID).Debug("resource created")
	}
	return next, nil
}

// ApplyBatch walks resources in sorted id order and each resource's samples in
// acceptance order. It returns the final state of every touched resource.
func (a *Aggregator) ApplyBatch(ctx context.Context, tx *gorm.DB, samples []sampledomain.Sample) ([]resourcedomain.Resource, error) {
	groups := make(map[string][]sampledomain.Sample)
	for _, sample := range samples {
		groups[sample.ResourceID] = append(groups[sample.ResourceID], sample)
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]resourcedomain.Resource, 0, len(ids))
	for _, id := range ids {
		var last resourcedomain.Resource
		for _, sample := range groups[id] {
			applied, err := a.Apply(ctx, tx, sample)
			if err != nil {
				return nil, err
			}
			last = applied
		}
		out = append(out, last)
	}
	return out, nil
}

// Fold derives the next resource state from the current one (nil when absent).
// Callers apply samples in acceptance order under the resource lock, so the
// folded sample always wins. Snowflake ids from different nodes do not follow
// that order and are never compared here.
func Fold(current *resourcedomain.Resource, sample sampledomain.Sample, now time.Time) resourcedomain.Resource {
	ts := sample.Timestamp.UTC()
	if current == nil {
		return resourcedomain.Resource{
			ResourceID:           sample.ResourceID,
			ProjectID:            sample.ProjectID,
			UserID:               sample.UserID,
			Source:               sample.Source,
			Metadata:             copyMetadata(sample.ResourceMetadata),
			FirstSampleTimestamp: ts,
			LastSampleTimestamp:  ts,
			LastSampleID:         sample.ID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
	}

	next := *current
	next.UpdatedAt = now
	if ts.After(next.LastSampleTimestamp) {
		next.LastSampleTimestamp = ts
	}
	next.ProjectID = sample.ProjectID
	next.UserID = sample.UserID
	next.Source = sample.Source
	next.Metadata = copyMetadata(sample.ResourceMetadata)
	next.LastSampleID = sample.ID
	return next
}

func copyMetadata(in datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
