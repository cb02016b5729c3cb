// Package validator normalizes raw sample payloads into accepted samples.
package validator

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	playvalidator "github.com/go-playground/validator/v10"
	"github.com/smallbiznis/telemetry/internal/config"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"go.uber.org/fx"
	"gorm.io/datatypes"
)

const (
	CodeRequired    = "required"
	CodeInvalidType = "invalid_type"
	CodeInvalid     = "invalid_value"
	CodeOutOfRange  = "out_of_range"
	CodeTooLong     = "too_long"
	CodeTooMany     = "too_many"
	CodeEmpty       = "empty"
	CodeMismatch    = "mismatch"
)

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

type Validator struct {
	validate      *playvalidator.Validate
	policy        *config.IngestPolicyHolder
	defaultSource string
}

type Params struct {
	fx.In

	Config config.Config
	Policy *config.IngestPolicyHolder
}

func New(p Params) *Validator {
	return NewWithPolicy(p.Policy, p.Config.DefaultSource)
}

func NewWithPolicy(policy *config.IngestPolicyHolder, defaultSource string) *Validator {
	v := playvalidator.New(playvalidator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{
		validate:      v,
		policy:        policy,
		defaultSource: strings.TrimSpace(defaultSource),
	}
}

// candidate carries the string fields after type extraction.
type candidate struct {
	CounterName string `json:"counter_name" validate:"required,max=255"`
	CounterType string `json:"counter_type" validate:"required,oneof=gauge delta cumulative"`
	CounterUnit string `json:"counter_unit" validate:"required,max=255"`
	ResourceID  string `json:"resource_id" validate:"required,max=255"`
	ProjectID   string `json:"project_id" validate:"required,max=255"`
	UserID      string `json:"user_id" validate:"required,max=255"`
	Source      string `json:"source" validate:"omitempty,max=255"`
}

// ValidateBatch validates every element. The first failure rejects the batch.
func (v *Validator) ValidateBatch(raws []sampledomain.RawSample, now time.Time) ([]sampledomain.Sample, error) {
	policy := v.policy.Get()
	if len(raws) == 0 {
		return nil, newError("samples", CodeEmpty, sampledomain.ErrEmptyBatch)
	}
	if len(raws) > policy.MaxBatchSize {
		return nil, newError("samples", CodeTooMany, sampledomain.ErrBatchTooLarge)
	}

	out := make([]sampledomain.Sample, 0, len(raws))
	for i, raw := range raws {
		sample, err := v.validate1(raw, now, policy)
		if err != nil {
			if verr, ok := AsValidationError(err); ok {
				verr.Index = i
			}
			return nil, err
		}
		out = append(out, sample)
	}
	return out, nil
}

// Validate normalizes a single payload.
func (v *Validator) Validate(raw sampledomain.RawSample, now time.Time) (sampledomain.Sample, error) {
	return v.validate1(raw, now, v.policy.Get())
}

func (v *Validator) validate1(raw sampledomain.RawSample, now time.Time, policy config.IngestPolicy) (sampledomain.Sample, error) {
	if raw == nil {
		return sampledomain.Sample{}, newError("", CodeInvalidType, sampledomain.ErrInvalidType)
	}

	var c candidate
	var err error
	fields := []struct {
		name string
		dst  *string
	}{
		{"counter_name", &c.CounterName},
		{"counter_type", &c.CounterType},
		{"counter_unit", &c.CounterUnit},
		{"resource_id", &c.ResourceID},
		{"project_id", &c.ProjectID},
		{"user_id", &c.UserID},
		{"source", &c.Source},
	}
	for _, f := range fields {
		if *f.dst, err = stringField(raw, f.name); err != nil {
			return sampledomain.Sample{}, err
		}
	}
	if err := v.validate.Struct(c); err != nil {
		return sampledomain.Sample{}, translate(err)
	}

	counterType := sampledomain.CounterType(c.CounterType)
	volume, err := volumeField(raw["counter_volume"], counterType)
	if err != nil {
		return sampledomain.Sample{}, err
	}
	timestamp, err := timestampField(raw["timestamp"], now)
	if err != nil {
		return sampledomain.Sample{}, err
	}
	metadata, err := metadataField(raw["resource_metadata"], policy.MaxMetadataKeys)
	if err != nil {
		return sampledomain.Sample{}, err
	}

	source := c.Source
	if source == "" {
		source = v.defaultSource
	}

	return sampledomain.Sample{
		CounterName:      c.CounterName,
		CounterType:      counterType,
		CounterUnit:      c.CounterUnit,
		CounterVolume:    volume,
		ResourceID:       c.ResourceID,
		ProjectID:        c.ProjectID,
		UserID:           c.UserID,
		Source:           source,
		ResourceMetadata: metadata,
		Timestamp:        timestamp,
	}, nil
}

func stringField(raw sampledomain.RawSample, name string) (string, error) {
	value, ok := raw[name]
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", newError(name, CodeInvalidType, sampledomain.ErrInvalidType)
	}
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return s, nil
}

func translate(err error) error {
	errs, ok := err.(playvalidator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return newError("", CodeInvalid, err)
	}
	fe := errs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return newError(field, CodeRequired, sampledomain.ErrMissingField)
	case "oneof":
		return newError(field, CodeInvalid, sampledomain.ErrInvalidCounterType)
	case "max":
		return newError(field, CodeTooLong, sampledomain.ErrFieldTooLong)
	default:
		return newError(field, CodeInvalid, sampledomain.ErrInvalidType)
	}
}

func volumeField(value any, counterType sampledomain.CounterType) (float64, error) {
	const field = "counter_volume"

	var volume float64
	switch v := value.(type) {
	case nil:
		return 0, newError(field, CodeRequired, sampledomain.ErrMissingField)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, newError(field, CodeInvalid, sampledomain.ErrInvalidVolume)
		}
		volume = f
	case float64:
		volume = v
	case int:
		volume = float64(v)
	case int64:
		volume = float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, newError(field, CodeInvalid, sampledomain.ErrInvalidVolume)
		}
		volume = f
	default:
		return 0, newError(field, CodeInvalidType, sampledomain.ErrInvalidType)
	}

	if math.IsNaN(volume) || math.IsInf(volume, 0) {
		return 0, newError(field, CodeInvalid, sampledomain.ErrInvalidVolume)
	}
	if volume < 0 && !counterType.AllowsNegative() {
		return 0, newError(field, CodeOutOfRange, sampledomain.ErrNegativeVolume)
	}
	return volume, nil
}

func timestampField(value any, now time.Time) (time.Time, error) {
	const field = "timestamp"

	switch v := value.(type) {
	case nil:
		return now.UTC(), nil
	case string:
		ts, err := ParseTimestamp(v)
		if err != nil {
			return time.Time{}, newError(field, CodeInvalid, sampledomain.ErrInvalidTimestamp)
		}
		return ts, nil
	default:
		return time.Time{}, newError(field, CodeInvalidType, sampledomain.ErrInvalidType)
	}
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO 8601, the latter read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	var lastErr error
	for _, layout := range zonelessLayouts {
		ts, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func metadataField(value any, maxKeys int) (datatypes.JSONMap, error) {
	const field = "resource_metadata"

	out := datatypes.JSONMap{}
	switch v := value.(type) {
	case nil:
		return out, nil
	case map[string]any:
		if err := flatten(out, "", v); err != nil {
			return nil, err
		}
	default:
		return nil, newError(field, CodeInvalidType, sampledomain.ErrInvalidMetadata)
	}
	if maxKeys > 0 && len(out) > maxKeys {
		return nil, newError(field, CodeTooMany, sampledomain.ErrTooManyMetadata)
	}
	return out, nil
}

// flatten folds nested objects into dotted keys and keeps scalars only.
// Two paths that flatten to the same key are rejected.
func flatten(out datatypes.JSONMap, prefix string, in map[string]any) error {
	for key, value := range in {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case nil, string, bool, float64:
			if err := put(out, name, v); err != nil {
				return err
			}
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return newError("resource_metadata."+name, CodeInvalid, sampledomain.ErrInvalidMetadata)
			}
			if err := put(out, name, f); err != nil {
				return err
			}
		case map[string]any:
			if err := flatten(out, name, v); err != nil {
				return err
			}
		default:
			return newError("resource_metadata."+name, CodeInvalidType, sampledomain.ErrInvalidMetadata)
		}
	}
	return nil
}

func put(out datatypes.JSONMap, name string, value any) error {
	if _, exists := out[name]; exists {
		return newError("resource_metadata", CodeInvalid, sampledomain.ErrInvalidMetadata)
	}
	out[name] = value
	return nil
}
