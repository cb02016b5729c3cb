package validator

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/telemetry/internal/config"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newValidator() *Validator {
	return NewWithPolicy(config.NewStaticIngestPolicy(config.IngestPolicy{MaxBatchSize: 3, MaxMetadataKeys: 4}), "openstack")
}

func validRaw() sampledomain.RawSample {
	return sampledomain.RawSample{
		"counter_name":   "apples",
		"counter_type":   "gauge",
		"counter_unit":   "instance",
		"counter_volume": json.Number("1"),
		"resource_id":    "bd9431c1-8d69-4ad3-803a-8d4a6b89fd36",
		"project_id":     "35b17138-b364-4e6a-a131-8f3099c5be68",
		"user_id":        "efd87807-12d2-4b38-9c70-5f5c2ac427ff",
		"resource_metadata": map[string]any{
			"name1": "value1",
			"name2": "value2",
		},
	}
}

func TestValidateNormalizesSample(t *testing.T) {
	sample, err := newValidator().Validate(validRaw(), now)
	require.NoError(t, err)

	assert.Equal(t, "apples", sample.CounterName)
	assert.Equal(t, sampledomain.CounterTypeGauge, sample.CounterType)
	assert.Equal(t, 1.0, sample.CounterVolume)
	assert.Equal(t, now, sample.Timestamp)
	assert.Equal(t, "openstack", sample.Source)
	assert.Equal(t, "value2", sample.ResourceMetadata["name2"])
}

func TestValidateRequiredFields(t *testing.T) {
	for _, field := range []string{"counter_name", "counter_type", "counter_unit", "resource_id", "project_id", "user_id", "counter_volume"} {
		t.Run(field, func(t *testing.T) {
			raw := validRaw()
			delete(raw, field)

			_, err := newValidator().Validate(raw, now)
			verr, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, field, verr.Field)
			assert.Equal(t, CodeRequired, verr.Code)
			assert.ErrorIs(t, err, sampledomain.ErrMissingField)
		})
	}
}

func TestValidateRejectsUnknownCounterType(t *testing.T) {
	raw := validRaw()
	raw["counter_type"] = "histogram"

	_, err := newValidator().Validate(raw, now)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "counter_type", verr.Field)
	assert.ErrorIs(t, err, sampledomain.ErrInvalidCounterType)
}

func TestValidateVolume(t *testing.T) {
	cases := []struct {
		name        string
		counterType string
		volume      any
		want        float64
		code        string
	}{
		{name: "numeric string", counterType: "gauge", volume: "2.5", want: 2.5},
		{name: "delta negative", counterType: "delta", volume: json.Number("-3"), want: -3},
		{name: "gauge negative", counterType: "gauge", volume: json.Number("-3"), code: CodeOutOfRange},
		{name: "cumulative negative", counterType: "cumulative", volume: -1.0, code: CodeOutOfRange},
		{name: "not numeric", counterType: "gauge", volume: "many", code: CodeInvalid},
		{name: "not finite", counterType: "delta", volume: "NaN", code: CodeInvalid},
		{name: "bool", counterType: "gauge", volume: true, code: CodeInvalidType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			raw["counter_type"] = tc.counterType
			raw["counter_volume"] = tc.volume

			sample, err := newValidator().Validate(raw, now)
			if tc.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.want, sample.CounterVolume)
				return
			}
			verr, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, "counter_volume", verr.Field)
			assert.Equal(t, tc.code, verr.Code)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2013-08-27T14:54:52.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2013, 8, 27, 14, 54, 52, 123456000, time.UTC), ts)

	ts, err = ParseTimestamp("2013-08-27T16:54:52+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2013, 8, 27, 14, 54, 52, 0, time.UTC), ts)

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestValidateMetadataFlattensNestedObjects(t *testing.T) {
	raw := validRaw()
	raw["resource_metadata"] = map[string]any{
		"flavor": map[string]any{"name": "m1.tiny", "vcpus": json.Number("1")},
		"active": true,
		"empty":  nil,
	}

	sample, err := newValidator().Validate(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "m1.tiny", sample.ResourceMetadata["flavor.name"])
	assert.Equal(t, 1.0, sample.ResourceMetadata["flavor.vcpus"])
	assert.Equal(t, true, sample.ResourceMetadata["active"])
	assert.Contains(t, sample.ResourceMetadata, "empty")
}

func TestValidateMetadataRejectsArraysAndExcessKeys(t *testing.T) {
	raw := validRaw()
	raw["resource_metadata"] = map[string]any{"tags": []any{"a"}}
	_, err := newValidator().Validate(raw, now)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "resource_metadata.tags", verr.Field)

	raw["resource_metadata"] = map[string]any{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5"}
	_, err = newValidator().Validate(raw, now)
	assert.ErrorIs(t, err, sampledomain.ErrTooManyMetadata)
}

func TestValidateMetadataRejectsFlattenedKeyCollision(t *testing.T) {
	raw := validRaw()
	raw["resource_metadata"] = map[string]any{
		"a":   map[string]any{"b": 1.0},
		"a.b": 2.0,
	}

	for i := 0; i < 20; i++ {
		_, err := newValidator().Validate(raw, now)
		verr, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "resource_metadata", verr.Field)
		assert.Equal(t, CodeInvalid, verr.Code)
		assert.ErrorIs(t, err, sampledomain.ErrInvalidMetadata)
	}
}

func TestValidateMissingMetadataYieldsEmptyMap(t *testing.T) {
	raw := validRaw()
	delete(raw, "resource_metadata")

	sample, err := newValidator().Validate(raw, now)
	require.NoError(t, err)
	assert.NotNil(t, sample.ResourceMetadata)
	assert.Empty(t, sample.ResourceMetadata)
}

func TestValidateBatchReportsIndex(t *testing.T) {
	bad := validRaw()
	bad["counter_type"] = "bogus"

	_, err := newValidator().ValidateBatch([]sampledomain.RawSample{validRaw(), bad}, now)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, 1, verr.Index)
	assert.True(t, strings.HasPrefix(verr.Error(), "sample 1: counter_type"))
}

func TestValidateBatchPolicy(t *testing.T) {
	v := newValidator()

	_, err := v.ValidateBatch(nil, now)
	assert.True(t, errors.Is(err, sampledomain.ErrEmptyBatch))

	_, err = v.ValidateBatch([]sampledomain.RawSample{validRaw(), validRaw(), validRaw(), validRaw()}, now)
	assert.True(t, errors.Is(err, sampledomain.ErrBatchTooLarge))

	samples, err := v.ValidateBatch([]sampledomain.RawSample{validRaw(), validRaw()}, now)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestValidateRejectsWrongTypes(t *testing.T) {
	raw := validRaw()
	raw["project_id"] = json.Number("12")

	_, err := newValidator().Validate(raw, now)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "project_id", verr.Field)
	assert.Equal(t, CodeInvalidType, verr.Code)
}
