package logger

import (
	"context"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/telemetry/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithProjectID(ctx, "proj-1")
	ctx, cid := obscontext.EnsureCorrelationID(ctx)

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "proj-1", fields["project_id"])
	assert.Equal(t, cid, fields["correlation_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig())
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM resources", 0
	}, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.LogMode(gormlogger.Info).Trace(context.Background(), time.Now(), func() (string, int64) {
		return "INSERT INTO samples", 1
	}, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "INSERT", logs.All()[0].ContextMap()["operation"])
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("  update resources set x = 1"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
