// Package domain contains the materialized resource view derived from samples.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Resource is the latest known state of one resource_id.
type Resource struct {
	ResourceID           string            `gorm:"primaryKey;type:varchar(255)"`
	ProjectID            string            `gorm:"type:varchar(255);not null;index"`
	UserID               string            `gorm:"type:varchar(255);not null"`
	Source               string            `gorm:"type:varchar(255);not null"`
	Metadata             datatypes.JSONMap `gorm:"not null"`
	FirstSampleTimestamp time.Time         `gorm:"not null"`
	LastSampleTimestamp  time.Time         `gorm:"not null"`
	LastSampleID         snowflake.ID      `gorm:"not null;index"`
	CreatedAt            time.Time         `gorm:"not null"`
	UpdatedAt            time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Resource) TableName() string { return "resources" }

// Meter records that a counter has reported against a resource.
type Meter struct {
	ResourceID  string    `gorm:"primaryKey;type:varchar(255)"`
	CounterName string    `gorm:"primaryKey;type:varchar(255)"`
	CounterType string    `gorm:"type:varchar(32);not null"`
	CounterUnit string    `gorm:"type:varchar(255);not null"`
	ProjectID   string    `gorm:"type:varchar(255);not null"`
	UserID      string    `gorm:"type:varchar(255);not null"`
	Source      string    `gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Meter) TableName() string { return "resource_meters" }

type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type ResourceView struct {
	ResourceID           string         `json:"resource_id"`
	ProjectID            string         `json:"project_id"`
	UserID               string         `json:"user_id"`
	Source               string         `json:"source"`
	FirstSampleTimestamp time.Time      `json:"first_sample_timestamp"`
	LastSampleTimestamp  time.Time      `json:"last_sample_timestamp"`
	Metadata             map[string]any `json:"metadata"`
	Links                []Link         `json:"links"`
}

type MeterView struct {
	MeterID    string `json:"meter_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Unit       string `json:"unit"`
	ResourceID string `json:"resource_id"`
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	Source     string `json:"source"`
}
