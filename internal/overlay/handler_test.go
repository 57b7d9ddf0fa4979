package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerState(t *testing.T) {
	b := NewBroadcaster(testLogger(), time.Hour)
	b.SetVisibility(true)
	h := NewHandler(b, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/overlay/state", nil)
	rec := httptest.NewRecorder()
	h.State(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !st.Visible {
		t.Error("state not reflected in response")
	}
}

func TestHandlerUpdate(t *testing.T) {
	b := NewBroadcaster(testLogger(), time.Hour)
	h := NewHandler(b, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/overlay/update", strings.NewReader(`{"visible":true}`))
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !b.GetState().Visible {
		t.Error("update not applied")
	}
}

func TestHandlerUpdateRejectsBadBody(t *testing.T) {
	b := NewBroadcaster(testLogger(), time.Hour)
	h := NewHandler(b, testLogger())

	for _, body := range []string{"", "not json"} {
		req := httptest.NewRequest(http.MethodPost, "/overlay/update", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Update(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

// streamRecorder hands each write to the test over a channel so the
// long-lived Events handler can be observed without data races.
type streamRecorder struct {
	header http.Header
	writes chan []byte
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header), writes: make(chan []byte, 32)}
}

func (s *streamRecorder) Header() http.Header  { return s.header }
func (s *streamRecorder) WriteHeader(code int) {}
func (s *streamRecorder) Flush()               {}

func (s *streamRecorder) Write(b []byte) (int, error) {
	s.writes <- append([]byte(nil), b...)
	return len(b), nil
}

func (s *streamRecorder) next(t *testing.T) string {
	t.Helper()
	select {
	case b := <-s.writes:
		return string(b)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream write")
		return ""
	}
}

func TestHandlerEventsStream(t *testing.T) {
	b := NewBroadcaster(testLogger(), time.Hour)
	h := NewHandler(b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/overlay/events", nil).WithContext(ctx)
	rec := newStreamRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Events(rec, req)
	}()

	first := rec.next(t)
	if !strings.HasPrefix(first, "event: "+EventMatchUpdate+"\n") {
		t.Errorf("first event = %q, want full-state match_update", first)
	}

	b.SetVisibility(true)
	if frame := rec.next(t); !strings.HasPrefix(frame, "event: "+EventVisibility+"\n") {
		t.Errorf("frame = %q, want visibility event", frame)
	}

	cancel()
	<-done

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if b.SubscriberCount() != 0 {
		t.Error("subscriber not detached after stream closed")
	}
}
