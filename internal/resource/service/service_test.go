package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/telemetry/internal/resource/aggregator"
	"github.com/smallbiznis/telemetry/internal/resource/domain"
	"github.com/smallbiznis/telemetry/internal/resource/repository"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const base = domain.LinkBase("http://telemetry.test")

var testNode, _ = snowflake.NewNode(9)

func setup(t *testing.T) (*gorm.DB, domain.Service, *aggregator.Aggregator) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Resource{}, &domain.Meter{}))

	repo := repository.Provide()
	svc := New(Params{DB: db, Log: zap.NewNop(), Repo: repo})
	agg := aggregator.New(aggregator.Params{Log: zap.NewNop(), Repo: repo})
	return db, svc, agg
}

func seed(t *testing.T, db *gorm.DB, agg *aggregator.Aggregator, samples ...sampledomain.Sample) {
	t.Helper()
	for i := range samples {
		samples[i].ID = testNode.Generate()
	}
	_, err := agg.ApplyBatch(context.Background(), db, samples)
	require.NoError(t, err)
}

func testSample(resourceID, counter string, metadata datatypes.JSONMap) sampledomain.Sample {
	return sampledomain.Sample{
		CounterName:      counter,
		CounterType:      sampledomain.CounterTypeCumulative,
		CounterUnit:      "ns",
		CounterVolume:    10,
		ResourceID:       resourceID,
		ProjectID:        "p1",
		UserID:           "u1",
		Source:           "openstack",
		ResourceMetadata: metadata,
		Timestamp:        time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestListResourcesOneViewPerResource(t *testing.T) {
	db, svc, agg := setup(t)
	seed(t, db, agg,
		testSample("r1", "cpu", datatypes.JSONMap{"a": "1"}),
		testSample("r2", "cpu", nil),
		testSample("r1", "memory", datatypes.JSONMap{"a": "2"}),
	)

	views, err := svc.ListResources(context.Background(), base, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, views, 2)

	byID := map[string]domain.ResourceView{}
	for _, v := range views {
		byID[v.ResourceID] = v
	}
	r1 := byID["r1"]
	assert.Equal(t, "2", r1.Metadata["a"])
	require.Len(t, r1.Links, 3)
	assert.Equal(t, "self", r1.Links[0].Rel)
	assert.Equal(t, "cpu", r1.Links[1].Rel)
	assert.Equal(t, "memory", r1.Links[2].Rel)
	assert.NotNil(t, byID["r2"].Metadata)
}

func TestListResourcesMostRecentlyUpdatedFirst(t *testing.T) {
	db, svc, agg := setup(t)
	seed(t, db, agg, testSample("r1", "cpu", nil))
	seed(t, db, agg, testSample("r2", "cpu", nil))
	seed(t, db, agg, testSample("r1", "cpu", nil))

	views, err := svc.ListResources(context.Background(), base, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "r1", views[0].ResourceID)
	assert.Equal(t, "r2", views[1].ResourceID)
}

func TestListResourcesFilters(t *testing.T) {
	db, svc, agg := setup(t)
	other := testSample("r2", "cpu", nil)
	other.ProjectID = "p2"
	seed(t, db, agg, testSample("r1", "cpu", nil), other)

	views, err := svc.ListResources(context.Background(), base, domain.Filter{ProjectID: "p2"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "r2", views[0].ResourceID)
}

func TestResolveLinkRoundTrip(t *testing.T) {
	db, svc, agg := setup(t)
	seed(t, db, agg, testSample("bd9431c1-8d69-4ad3-803a-8d4a6b89fd36", "apples", datatypes.JSONMap{"name1": "value1", "name2": "value2"}))

	views, err := svc.ListResources(context.Background(), base, domain.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, views)

	self := views[0].Links[0].Href
	assert.True(t, strings.Contains(self, "telemetry"))

	view, err := svc.ResolveLink(context.Background(), base, self)
	require.NoError(t, err)
	assert.Equal(t, views[0].Metadata, view.Metadata)
	assert.Equal(t, "value2", view.Metadata["name2"])
	assert.Equal(t, self, view.Links[0].Href)
}

func TestResolveLinkErrors(t *testing.T) {
	_, svc, _ := setup(t)

	_, err := svc.ResolveLink(context.Background(), base, string(base)+"/telemetry/v2/resources/missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ResolveLink(context.Background(), base, string(base)+"/telemetry/v2/meters/cpu")
	assert.ErrorIs(t, err, domain.ErrInvalidLink)
}

func TestListMeters(t *testing.T) {
	db, svc, agg := setup(t)
	seed(t, db, agg, testSample("r1", "cpu", nil), testSample("r1", "disk", nil), testSample("r2", "cpu", nil))

	meters, err := svc.ListMeters(context.Background(), domain.Filter{ResourceID: "r1"})
	require.NoError(t, err)
	require.Len(t, meters, 2)
	assert.Equal(t, "cpu", meters[0].Name)
	assert.Equal(t, "cumulative", meters[0].Type)
	assert.NotEmpty(t, meters[0].MeterID)
}

type mockRepo struct {
	mock.Mock
	domain.Repository
}

func (m *mockRepo) List(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.Resource, error) {
	args := m.Called(ctx, db, filter)
	rows, _ := args.Get(0).([]domain.Resource)
	return rows, args.Error(1)
}

func TestListResourcesPropagatesStorageError(t *testing.T) {
	repo := &mockRepo{}
	storageErr := errors.New("connection refused")
	repo.On("List", mock.Anything, mock.Anything, domain.Filter{}).Return(nil, storageErr)

	svc := New(Params{Log: zap.NewNop(), Repo: repo})
	_, err := svc.ListResources(context.Background(), base, domain.Filter{})
	assert.ErrorIs(t, err, storageErr)
	repo.AssertExpectations(t)
}
