// Package domain contains the append-only sample log models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CounterType string

const (
	CounterTypeGauge      CounterType = "gauge"
	CounterTypeDelta      CounterType = "delta"
	CounterTypeCumulative CounterType = "cumulative"
)

func (t CounterType) Valid() bool {
	switch t {
	case CounterTypeGauge, CounterTypeDelta, CounterTypeCumulative:
		return true
	default:
		return false
	}
}

// AllowsNegative reports whether volumes of this type may go below zero.
func (t CounterType) AllowsNegative() bool {
	return t == CounterTypeDelta
}

// Sample is one accepted measurement. Rows are never updated or deleted.
// ID is time ordered within one node only.
type Sample struct {
	ID               snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	MessageID        string            `gorm:"type:varchar(64);not null;uniqueIndex" json:"message_id"`
	CounterName      string            `gorm:"type:varchar(255);not null;index:idx_samples_counter_ts,priority:1" json:"counter_name"`
	CounterType      CounterType       `gorm:"type:varchar(32);not null" json:"counter_type"`
	CounterUnit      string            `gorm:"type:varchar(255);not null" json:"counter_unit"`
	CounterVolume    float64           `gorm:"not null" json:"counter_volume"`
	ResourceID       string            `gorm:"type:varchar(255);not null;index" json:"resource_id"`
	ProjectID        string            `gorm:"type:varchar(255);not null;index" json:"project_id"`
	UserID           string            `gorm:"type:varchar(255);not null" json:"user_id"`
	Source           string            `gorm:"type:varchar(255);not null" json:"source"`
	ResourceMetadata datatypes.JSONMap `json:"resource_metadata"`
	Timestamp        time.Time         `gorm:"not null;index:idx_samples_counter_ts,priority:2" json:"timestamp"`
	RecordedAt       time.Time         `gorm:"not null" json:"recorded_at"`
}

// TableName sets the database table name.
func (Sample) TableName() string { return "samples" }

// RawSample is one undecoded element of an ingestion batch.
type RawSample map[string]any
