package liveevents

import (
	"testing"
	"time"

	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSample(counter string, volume float64) sampledomain.Sample {
	return sampledomain.Sample{
		ID:            42,
		CounterName:   counter,
		CounterType:   sampledomain.CounterTypeGauge,
		CounterVolume: volume,
		ResourceID:    "r1",
		UserID:        "secret-user",
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Publish(testSample("cpu", 1))

	sub, backlog, err := hub.Subscribe("cpu")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)
}

func TestSubscriberReceivesEventsForItsCounter(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("cpu")
	require.NoError(t, err)
	defer sub.Close()

	hub.Publish(testSample("memory", 5), testSample("cpu", 7))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "cpu", ev.CounterName)
		assert.Equal(t, 7.0, ev.CounterVolume)
		assert.Equal(t, "42", ev.SampleID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	_, backlog, err := hub.Subscribe("cpu")
	require.NoError(t, err)
	require.Len(t, backlog, 1)
}

func TestBacklogIsBounded(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("cpu")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish(testSample("cpu", float64(i)))
	}
	_, backlog, err := hub.Subscribe("cpu")
	require.NoError(t, err)
	require.Len(t, backlog, DefaultBufferSize)
	assert.Equal(t, float64(DefaultBufferSize+9), backlog[len(backlog)-1].CounterVolume)
}

func TestCloseRemovesStream(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("cpu")
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.streams)
}

func TestSubscribeValidation(t *testing.T) {
	var nilHub *Hub
	_, _, err := nilHub.Subscribe("cpu")
	assert.ErrorIs(t, err, ErrHubUnavailable)

	_, _, err = NewHub().Subscribe(" ")
	assert.ErrorIs(t, err, ErrInvalidCounterName)
}
