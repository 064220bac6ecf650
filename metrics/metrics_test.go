package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counts(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.Envelope("ping")
	c.Envelope("ping")
	c.Rejected("join_room", "room_full")
	c.Relayed("sensor_data")
	c.Dropped("peer_unreachable")
	c.SessionMatched()
	c.RoomCreated()
	c.Swept("session_code", 3)
	c.Swept("room", 0)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"connections", testutil.ToFloat64(c.connections), 1},
		{"ping envelopes", testutil.ToFloat64(c.envelopes.WithLabelValues("ping")), 2},
		{"rejections", testutil.ToFloat64(c.rejections.WithLabelValues("join_room", "room_full")), 1},
		{"relayed", testutil.ToFloat64(c.relayed.WithLabelValues("sensor_data")), 1},
		{"dropped", testutil.ToFloat64(c.dropped.WithLabelValues("peer_unreachable")), 1},
		{"sessions matched", testutil.ToFloat64(c.sessionsMatched), 1},
		{"rooms created", testutil.ToFloat64(c.roomsCreated), 1},
		{"swept codes", testutil.ToFloat64(c.swept.WithLabelValues("session_code")), 3},
		{"swept rooms", testutil.ToFloat64(c.swept.WithLabelValues("room")), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("nil collector panicked: %v", r)
		}
	}()

	c.ConnectionOpened()
	c.ConnectionClosed()
	c.Envelope("x")
	c.Rejected("x", "y")
	c.Relayed("x")
	c.Dropped("x")
	c.SessionMatched()
	c.RoomCreated()
	c.Swept("x", 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from nil collector, got %d", rec.Code)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.RoomCreated()

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to scrape: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "sensorhub_rooms_created_total 1") {
		t.Errorf("Expected rooms_created_total in output, got:\n%s", body)
	}
}
