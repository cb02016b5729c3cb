package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Filter narrows resource and meter listings. Zero values are ignored.
type Filter struct {
	ResourceID string
	ProjectID  string
	UserID     string
	Source     string
}

// LinkBase is the scheme and host links are rooted at, e.g. "https://api.example.com".
type LinkBase string

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, resourceID string) (*Resource, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, resourceID string) (*Resource, error)
	Upsert(ctx context.Context, db *gorm.DB, resource *Resource) error
	List(ctx context.Context, db *gorm.DB, filter Filter) ([]Resource, error)
	UpsertMeter(ctx context.Context, db *gorm.DB, meter *Meter) error
	ListMeters(ctx context.Context, db *gorm.DB, filter Filter, counterName string) ([]Meter, error)
	MetersByResource(ctx context.Context, db *gorm.DB, resourceIDs []string) (map[string][]Meter, error)
}

type Service interface {
	ListResources(ctx context.Context, base LinkBase, filter Filter) ([]ResourceView, error)
	GetResource(ctx context.Context, base LinkBase, resourceID string) (ResourceView, error)
	ResolveLink(ctx context.Context, base LinkBase, link string) (ResourceView, error)
	ListMeters(ctx context.Context, filter Filter) ([]MeterView, error)
}

var (
	ErrNotFound        = errors.New("resource_not_found")
	ErrInvalidLink     = errors.New("invalid_link")
	ErrInvalidFilter   = errors.New("invalid_filter")
	ErrInvalidResource = errors.New("invalid_resource")
)
