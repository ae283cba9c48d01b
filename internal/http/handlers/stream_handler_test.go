package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mentora/go-doubt-backend/internal/bus"
)

// closeNotifyRecorder wraps httptest.ResponseRecorder with the
// http.CloseNotifier method that gin's Context.Stream requires; the plain
// recorder does not implement it. Disconnects in these tests are signalled
// through the request context or the bus, so the channel never fires.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func TestStreamDoubt_BadID(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	r := newTestRouter(t, &fakeSvc{bus: b}, b)

	w := doJSON(t, r, http.MethodGet, "/doubts/not-a-uuid/stream", "", "u1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStreamDoubt_DeliversEventsThenEndsOnDisconnect(t *testing.T) {
	b := bus.New(8)
	defer b.Close()
	r := newTestRouter(t, &fakeSvc{bus: b}, b)

	doubtID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/doubts/"+doubtID+"/stream", nil).WithContext(ctx)
	w := newCloseNotifyRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	// Wait for the handler to attach its subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if b.SubscriberCounts()["doubt:"+doubtID] == 1 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(bus.DoubtScope(doubtID), bus.Event{
		Kind:    bus.KindMessageAppended,
		DoubtID: doubtID,
		Payload: map[string]string{"text": "hi"},
		At:      time.Now().UTC(),
	})

	// Client walks away; the handler loop must end.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not end on disconnect")
	}

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event:"+bus.KindMessageAppended) {
		t.Fatalf("expected SSE frame for message.appended, got %q", body)
	}
	if !strings.Contains(body, `"text":"hi"`) {
		t.Fatalf("expected payload in SSE data, got %q", body)
	}
}

func TestStreamCourse_EndsWhenBusCloses(t *testing.T) {
	b := bus.New(4)
	r := newTestRouter(t, &fakeSvc{bus: b}, b)

	courseID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/courses/"+courseID+"/doubts/stream", nil)
	w := newCloseNotifyRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if b.SubscriberCounts()["course:"+courseID] == 1 {
			break
		}
		if time.Now().After(deadline) {
			b.Close()
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Shutdown path: closing the bus ends every open stream.
	b.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on bus shutdown")
	}
}

func TestRealtimeStatus(t *testing.T) {
	b := bus.New(4)
	defer b.Close()
	r := newTestRouter(t, &fakeSvc{bus: b}, b)

	// Idle: nothing subscribed.
	w := doJSON(t, r, http.MethodGet, "/realtime/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var idle RealtimeStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &idle); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if idle.Active || idle.Total != 0 {
		t.Fatalf("expected idle status, got %+v", idle)
	}

	// With two listeners on one course.
	s1 := b.Subscribe(bus.CourseScope("c1"))
	defer s1.Close()
	s2 := b.Subscribe(bus.CourseScope("c1"))
	defer s2.Close()

	w = doJSON(t, r, http.MethodGet, "/realtime/status", "", "")
	var live RealtimeStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &live); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !live.Active || live.Total != 2 || live.Subscribers["course:c1"] != 2 {
		t.Fatalf("unexpected live status: %+v", live)
	}
}
