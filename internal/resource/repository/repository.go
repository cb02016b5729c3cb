package repository

import (
	"context"
	"errors"

	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	pkgdb "github.com/smallbiznis/telemetry/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func Provide() resourcedomain.Repository {
	return &repository{}
}

func (r *repository) Get(ctx context.Context, db *gorm.DB, resourceID string) (*resourcedomain.Resource, error) {
	var row resourcedomain.Resource
	err := db.WithContext(ctx).Where("resource_id = ?", resourceID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, resourcedomain.ErrNotFound
		}
		return nil, pkgdb.Wrap("get resource", err)
	}
	return &row, nil
}

// GetForUpdate returns nil when the resource does not exist yet.
// Row locks are taken on dialects that support them.
func (r *repository) GetForUpdate(ctx context.Context, db *gorm.DB, resourceID string) (*resourcedomain.Resource, error) {
	stmt := db.WithContext(ctx)
	if pkgdb.SupportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []resourcedomain.Resource
	if err := stmt.Where("resource_id = ?", resourceID).Limit(1).Find(&rows).Error; err != nil {
		return nil, pkgdb.Wrap("lock resource", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) Upsert(ctx context.Context, db *gorm.DB, resource *resourcedomain.Resource) error {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"project_id",
			"user_id",
			"source",
			"metadata",
			"last_sample_timestamp",
			"last_sample_id",
			"updated_at",
		}),
	}).Create(resource).Error
	return pkgdb.Wrap("upsert resource", err)
}

// List orders most-recently-updated first; ties break on resource_id.
func (r *repository) List(ctx context.Context, db *gorm.DB, filter resourcedomain.Filter) ([]resourcedomain.Resource, error) {
	var rows []resourcedomain.Resource
	err := applyFilter(db.WithContext(ctx), filter).
		Order("last_sample_id DESC").
		Order("resource_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgdb.Wrap("list resources", err)
	}
	return rows, nil
}

func (r *repository) UpsertMeter(ctx context.Context, db *gorm.DB, meter *resourcedomain.Meter) error {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resource_id"}, {Name: "counter_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"counter_type",
			"counter_unit",
			"project_id",
			"user_id",
			"source",
			"updated_at",
		}),
	}).Create(meter).Error
	return pkgdb.Wrap("upsert resource meter", err)
}

func (r *repository) ListMeters(ctx context.Context, db *gorm.DB, filter resourcedomain.Filter, counterName string) ([]resourcedomain.Meter, error) {
	stmt := applyFilter(db.WithContext(ctx), filter)
	if counterName != "" {
		stmt = stmt.Where("counter_name = ?", counterName)
	}

	var rows []resourcedomain.Meter
	if err := stmt.Order("resource_id ASC").Order("counter_name ASC").Find(&rows).Error; err != nil {
		return nil, pkgdb.Wrap("list resource meters", err)
	}
	return rows, nil
}

// MetersByResource groups meters per resource, each group ordered by counter name.
func (r *repository) MetersByResource(ctx context.Context, db *gorm.DB, resourceIDs []string) (map[string][]resourcedomain.Meter, error) {
	out := make(map[string][]resourcedomain.Meter, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return out, nil
	}

	var rows []resourcedomain.Meter
	err := db.WithContext(ctx).
		Where("resource_id IN ?", resourceIDs).
		Order("counter_name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgdb.Wrap("list resource meters", err)
	}
	for _, row := range rows {
		out[row.ResourceID] = append(out[row.ResourceID], row)
	}
	return out, nil
}

func applyFilter(db *gorm.DB, filter resourcedomain.Filter) *gorm.DB {
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
	return db
}
