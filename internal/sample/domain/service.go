package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type IngestRequest struct {
	CounterName string
	Direct      bool
	Samples     []RawSample
}

// Filter narrows sample reads. Zero values are ignored.
type Filter struct {
	CounterName string
	ResourceID  string
	ProjectID   string
	UserID      string
	Source      string
	Start       *time.Time
	StartOp     string
	End         *time.Time
	EndOp       string
	Limit       int
}

type Statistics struct {
	Count         int64      `json:"count"`
	Min           float64    `json:"min"`
	Max           float64    `json:"max"`
	Avg           float64    `json:"avg"`
	Sum           float64    `json:"sum"`
	Unit          string     `json:"unit"`
	Duration      float64    `json:"duration"`
	DurationStart *time.Time `json:"duration_start"`
	DurationEnd   *time.Time `json:"duration_end"`
	Period        int64      `json:"period"`
	PeriodStart   *time.Time `json:"period_start"`
	PeriodEnd     *time.Time `json:"period_end"`
}

type Repository interface {
	Append(context.Context, *gorm.DB, []Sample) ([]Sample, error)
	List(context.Context, *gorm.DB, Filter) ([]Sample, error)
	Statistics(context.Context, *gorm.DB, Filter) (Statistics, error)
}

type Service interface {
	Ingest(context.Context, IngestRequest) ([]Sample, error)
	List(context.Context, Filter) ([]Sample, error)
	Statistics(context.Context, Filter) (Statistics, error)
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var (
	ErrEmptyBatch         = errors.New("empty_batch")
	ErrBatchTooLarge      = errors.New("batch_too_large")
	ErrMissingField       = errors.New("missing_field")
	ErrInvalidType        = errors.New("invalid_type")
	ErrInvalidCounterName = errors.New("invalid_counter_name")
	ErrInvalidCounterType = errors.New("invalid_counter_type")
	ErrInvalidVolume      = errors.New("invalid_counter_volume")
	ErrNegativeVolume     = errors.New("negative_counter_volume")
	ErrInvalidTimestamp   = errors.New("invalid_timestamp")
	ErrInvalidMetadata    = errors.New("invalid_resource_metadata")
	ErrTooManyMetadata    = errors.New("too_many_metadata_keys")
	ErrFieldTooLong       = errors.New("field_too_long")
	ErrCounterMismatch    = errors.New("counter_name_mismatch")
	ErrInvalidFilter      = errors.New("invalid_filter")
)
