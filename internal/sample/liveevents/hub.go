// Package liveevents fans accepted samples out to live subscribers of a counter.
package liveevents

import (
	"errors"
	"strings"
	"sync"
	"time"

	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable     = errors.New("hub_unavailable")
	ErrInvalidCounterName = errors.New("invalid_counter_name")
)

type Event struct {
	SampleID      string  `json:"sample_id"`
	MessageID     string  `json:"message_id"`
	CounterName   string  `json:"counter_name"`
	CounterType   string  `json:"counter_type"`
	CounterUnit   string  `json:"counter_unit"`
	CounterVolume float64 `json:"counter_volume"`
	ResourceID    string  `json:"resource_id"`
	ProjectID     string  `json:"project_id"`
	Timestamp     string  `json:"timestamp"`
	RecordedAt    string  `json:"recorded_at"`
}

// EventFromSample omits user and metadata so the stream carries no tenant attributes.
func EventFromSample(s sampledomain.Sample) Event {
	return Event{
		SampleID:      s.ID.String(),
		MessageID:     s.MessageID,
		CounterName:   s.CounterName,
		CounterType:   string(s.CounterType),
		CounterUnit:   s.CounterUnit,
		CounterVolume: s.CounterVolume,
		ResourceID:    s.ResourceID,
		ProjectID:     s.ProjectID,
		Timestamp:     s.Timestamp.UTC().Format(time.RFC3339Nano),
		RecordedAt:    s.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub         *Hub
	counterName string
	id          uint64
	ch          chan Event
	once        sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish buffers and forwards events for counters that have been subscribed to.
// Slow subscribers drop events rather than block ingestion.
func (h *Hub) Publish(samples ...sampledomain.Sample) {
	if h == nil {
		return
	}
	for _, s := range samples {
		h.publish(s.CounterName, EventFromSample(s))
	}
}

func (h *Hub) publish(counterName string, event Event) {
	name := strings.TrimSpace(counterName)
	if name == "" {
		return
	}
	h.mu.RLock()
	st := h.streams[name]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.buffer = append(st.buffer, event)
	if len(st.buffer) > h.bufferSize {
		st.buffer = st.buffer[len(st.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a subscription plus the buffered backlog for the counter.
func (h *Hub) Subscribe(counterName string) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	name := strings.TrimSpace(counterName)
	if name == "" {
		return nil, nil, ErrInvalidCounterName
	}

	st := h.ensureStream(name)
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	st.subs[id] = ch
	backlog := append([]Event(nil), st.buffer...)
	st.mu.Unlock()

	return &Subscription{
		hub:         h,
		counterName: name,
		id:          id,
		ch:          ch,
	}, backlog, nil
}

func (h *Hub) ensureStream(counterName string) *stream {
	h.mu.RLock()
	current := h.streams[counterName]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[counterName]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[counterName] = current
	}
	return current
}

func (h *Hub) unsubscribe(counterName string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.streams[counterName]
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.subs, id)
	empty := len(st.subs) == 0
	st.mu.Unlock()
	if empty {
		delete(h.streams, counterName)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.counterName, s.id)
	})
}
