package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/telemetry/internal/observability/context"
	"github.com/smallbiznis/telemetry/internal/sample/liveevents"
)

const liveHeartbeat = 15 * time.Second

// StreamMeterLiveEvents serves accepted samples of one counter as server-sent events.
func (s *Server) StreamMeterLiveEvents(c *gin.Context) {
	if s.liveEvents == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	counterName := strings.TrimSpace(c.Param("counter_name"))
	c.Set(obscontext.KeyCounterName, counterName)

	subscription, backlog, err := s.liveEvents.Subscribe(counterName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer subscription.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	headers := c.Writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(c.Writer, "retry: 2000\n\n"); err != nil {
		return
	}
	for _, event := range backlog {
		if err := writeLiveEvent(c.Writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(liveHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-subscription.Events():
			if !open {
				return
			}
			if err := writeLiveEvent(c.Writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeLiveEvent(w io.Writer, event liveevents.Event) error {
	data, err := payloadAPI.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: sample\ndata: %s\n\n", event.SampleID, data)
	return err
}
