package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.Packet("aprs.fi", "inserted")
	c.Packet("aprs.fi", "inserted")
	c.Packet("serial", "duplicate")
	c.SourceError("sondehub", "APIFailure")
	c.Prediction("ok")
	c.Tick(150*time.Millisecond, 2, 40)

	if got := testutil.ToFloat64(c.PacketsTotal.WithLabelValues("aprs.fi", "inserted")); got != 2 {
		t.Fatalf("balloonscope_packets_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.SourceErrors.WithLabelValues("sondehub", "APIFailure")); got != 1 {
		t.Fatalf("balloonscope_source_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Tracks); got != 2 {
		t.Fatalf("balloonscope_tracks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Packets); got != 40 {
		t.Fatalf("balloonscope_track_packets = %v, want 40", got)
	}
}

func TestCollectorReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	second.Prediction("failed")
	if got := testutil.ToFloat64(first.PredictionRequests.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected shared collectors, got %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Packet("x", "inserted")
	c.Tick(time.Second, 1, 1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.Tick(time.Second, 3, 10)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "balloonscope_tracks 3") {
		t.Fatalf("expected tracks gauge in output, got:\n%s", rr.Body.String())
	}
}
