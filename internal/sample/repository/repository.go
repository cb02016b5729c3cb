package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	pkgdb "github.com/smallbiznis/telemetry/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	node *snowflake.Node
	now  func() time.Time
}

func Provide(node *snowflake.Node) sampledomain.Repository {
	return &repository{node: node, now: time.Now}
}

// Append stamps identity on each sample and inserts the batch in one statement.
// The returned slice keeps input order.
func (r *repository) Append(ctx context.Context, db *gorm.DB, samples []sampledomain.Sample) ([]sampledomain.Sample, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	recordedAt := r.now().UTC()
	out := make([]sampledomain.Sample, len(samples))
	for i, sample := range samples {
		sample.ID = r.node.Generate()
		sample.MessageID = uuid.NewString()
		sample.RecordedAt = recordedAt
		out[i] = sample
	}

	if err := db.WithContext(ctx).Create(&out).Error; err != nil {
		return nil, pkgdb.Wrap("append samples", err)
	}
	return out, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter sampledomain.Filter) ([]sampledomain.Sample, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = sampledomain.DefaultListLimit
	}
	if limit > sampledomain.MaxListLimit {
		limit = sampledomain.MaxListLimit
	}

	var rows []sampledomain.Sample
	err := applyFilter(db.WithContext(ctx), filter).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgdb.Wrap("list samples", err)
	}
	return rows, nil
}

type aggregateRow struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
	Sum   float64
}

func (r *repository) Statistics(ctx context.Context, db *gorm.DB, filter sampledomain.Filter) (sampledomain.Statistics, error) {
	var agg aggregateRow
	err := applyFilter(db.WithContext(ctx).Model(&sampledomain.Sample{}), filter).
		Select(`COUNT(*) AS count,
			COALESCE(MIN(counter_volume), 0) AS min,
			COALESCE(MAX(counter_volume), 0) AS max,
			COALESCE(AVG(counter_volume), 0) AS avg,
			COALESCE(SUM(counter_volume), 0) AS sum`).
		Scan(&agg).Error
	if err != nil {
		return sampledomain.Statistics{}, pkgdb.Wrap("sample statistics", err)
	}

	stats := sampledomain.Statistics{
		Count: agg.Count,
		Min:   agg.Min,
		Max:   agg.Max,
		Avg:   agg.Avg,
		Sum:   agg.Sum,
	}
	if agg.Count == 0 {
		return stats, nil
	}

	var first, last sampledomain.Sample
	if err := applyFilter(db.WithContext(ctx), filter).Order("timestamp ASC").Order("id ASC").Take(&first).Error; err != nil {
		return sampledomain.Statistics{}, pkgdb.Wrap("sample statistics", err)
	}
	if err := applyFilter(db.WithContext(ctx), filter).Order("timestamp DESC").Order("id DESC").Take(&last).Error; err != nil {
		return sampledomain.Statistics{}, pkgdb.Wrap("sample statistics", err)
	}

	start, end := first.Timestamp.UTC(), last.Timestamp.UTC()
	stats.Unit = last.CounterUnit
	stats.Duration = end.Sub(start).Seconds()
	stats.DurationStart, stats.DurationEnd = &start, &end
	stats.PeriodStart, stats.PeriodEnd = &start, &end
	return stats, nil
}

func applyFilter(db *gorm.DB, filter sampledomain.Filter) *gorm.DB {
	if filter.CounterName != "" {
		db = db.Where("counter_name = ?", filter.CounterName)
	}
	if filter.ResourceID != "" {
		db = db.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.ProjectID != "" {
		db = db.Where("project_id = ?", filter.ProjectID)
	}
	if filter.UserID != "" {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if filter.Source != "" {
		db = db.Where("source = ?", filter.Source)
	}
	if filter.Start != nil {
		if filter.StartOp == "gt" {
			db = db.Where("timestamp > ?", filter.Start.UTC())
		} else {
			db = db.Where("timestamp >= ?", filter.Start.UTC())
		}
	}
	if filter.End != nil {
		if filter.EndOp == "le" {
			db = db.Where("timestamp <= ?", filter.End.UTC())
		} else {
			db = db.Where("timestamp < ?", filter.End.UTC())
		}
	}
	return db
}
