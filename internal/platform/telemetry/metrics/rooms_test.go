package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRoomsCounters(t *testing.T) {
	m := NewRooms()
	m.Message("vote")
	m.Message("vote")
	m.Error("not_host")
	m.Promotion()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	if got := testutil.ToFloat64(m.messages.WithLabelValues("vote")); got != 2 {
		t.Fatalf("vote messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("not_host")); got != 1 {
		t.Fatalf("not_host errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessions); got != 1 {
		t.Fatalf("sessions = %v, want 1", got)
	}
}

func TestNilRoomsIsNoop(t *testing.T) {
	var m *Rooms
	m.Message("hello")
	m.Error("bad_json")
	m.Reap()
	m.ObservePersist(time.Millisecond)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewRooms()
	m.Reap()
	m.ObservePersist(2 * time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"breakpoint_rooms_reaps_total 1", "breakpoint_rooms_persist_seconds_count 1"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %q in metrics output", name)
		}
	}
}
