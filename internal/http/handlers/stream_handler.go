// Realtime streaming handlers.
//
// This file exposes the live event feeds of the doubt pipeline over
// Server-Sent Events (SSE):
//   - GET /courses/{id}/doubts/stream  (all doubt activity within a course)
//   - GET /doubts/{id}/stream          (activity on a single doubt)
//   - GET /realtime/status             (subscriber counts per active scope)
//
// The feeds are best effort: slow consumers may miss events (the bus drops
// rather than blocks), so clients are expected to re-pull current state over
// the REST endpoints after a reconnect.
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mentora/go-doubt-backend/internal/bus"
)

// heartbeatInterval is how often an SSE comment frame is written to keep
// intermediaries from timing out idle connections.
const heartbeatInterval = 25 * time.Second

// StreamCourse handles GET /courses/:id/doubts/stream. It subscribes the
// client to the course scope and forwards doubt.created, doubt.updated and
// message.appended events for every doubt in the course.
func (h *Handlers) StreamCourse(c *gin.Context) {
	courseID := c.Param("id")
	if _, err := uuid.Parse(courseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "course id must be a UUID")
		return
	}
	h.stream(c, bus.CourseScope(courseID))
}

// StreamDoubt handles GET /doubts/:id/stream. It subscribes the client to a
// single doubt's scope.
func (h *Handlers) StreamDoubt(c *gin.Context) {
	doubtID := c.Param("id")
	if _, err := uuid.Parse(doubtID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doubt id must be a UUID")
		return
	}
	h.stream(c, bus.DoubtScope(doubtID))
}

// stream runs the SSE loop for one subscription until the client disconnects
// or the bus shuts down. Events are written as `event: <kind>` frames with a
// JSON data payload; a comment heartbeat keeps the connection warm.
func (h *Handlers) stream(c *gin.Context, scope bus.Scope) {
	sub := h.svc.Subscribe(scope)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, okCh := <-sub.Events():
			if !okCh {
				return false
			}
			c.SSEvent(ev.Kind, ev.Payload)
			return true
		case <-ticker.C:
			// SSE comment frame; ignored by EventSource clients.
			_, err := w.Write([]byte(": ping\n\n"))
			return err == nil
		}
	})
}

// RealtimeStatusResponse reports live subscription counts keyed by scope
// ("course:<id>" or "doubt:<id>").
type RealtimeStatusResponse struct {
	Active      bool           `json:"active"`
	Subscribers map[string]int `json:"subscribers"`
	Total       int            `json:"total"`
}

// RealtimeStatus handles GET /realtime/status. Operators use it to see which
// scopes currently have live listeners attached.
func (h *Handlers) RealtimeStatus(c *gin.Context) {
	counts := h.bus.SubscriberCounts()
	total := 0
	for _, n := range counts {
		total += n
	}
	ok(c, http.StatusOK, RealtimeStatusResponse{
		Active:      total > 0,
		Subscribers: counts,
		Total:       total,
	})
}
