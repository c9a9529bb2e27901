package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

func TestTargets(t *testing.T) {
	tg := Targets{Coordinators: []string{"c1:7480", "c2:7480"}}
	if addr, ok := tg.Resolve(" 10.0.0.1:7480 "); !ok || addr != "10.0.0.1:7480" {
		t.Errorf("Resolve() = %q, %v", addr, ok)
	}
	if _, ok := tg.Resolve(""); ok {
		t.Error("Resolve(\"\") should fail")
	}
	if got := tg.IDs(domain.RoleCoordinator); len(got) != 2 {
		t.Errorf("IDs(coordinator) = %v", got)
	}
	if got := tg.IDs(domain.RoleStore); got != nil {
		t.Errorf("IDs(store) = %v, want nil", got)
	}
}

func metricsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPingAndScrape(t *testing.T) {
	srv := metricsServer(t, `# TYPE graphmesh_ingest_ready gauge
graphmesh_ingest_ready 1
# TYPE graphmesh_ingest_records_total counter
graphmesh_ingest_records_total{shard="3"} 12 1700000000
# TYPE graphmesh_ingest_append_seconds histogram
graphmesh_ingest_append_seconds_bucket{le="0.1"} 2
graphmesh_ingest_append_seconds_bucket{le="+Inf"} 3
graphmesh_ingest_append_seconds_sum 0.5
graphmesh_ingest_append_seconds_count 3
graphmesh_ingest_snapshot_current -1
# TYPE go_goroutines gauge
go_goroutines 12
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Ping(ctx, srv.Client(), srv.URL); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	samples, err := ScrapeMetrics(ctx, srv.Client(), srv.URL, "graphmesh_")
	if err != nil {
		t.Fatalf("ScrapeMetrics() error = %v", err)
	}

	want := []Sample{
		{Name: "graphmesh_ingest_append_seconds_count", Value: 3},
		{Name: "graphmesh_ingest_append_seconds_sum", Value: 0.5},
		{Name: "graphmesh_ingest_ready", Value: 1},
		{Name: "graphmesh_ingest_records_total", Labels: `shard="3"`, Value: 12},
		{Name: "graphmesh_ingest_snapshot_current", Value: -1},
	}
	if len(samples) != len(want) {
		t.Fatalf("samples = %+v, want %d", samples, len(want))
	}
	for i, w := range want {
		if samples[i] != w {
			t.Errorf("samples[%d] = %+v, want %+v", i, samples[i], w)
		}
	}
}

func TestScrapeMetrics_Malformed(t *testing.T) {
	srv := metricsServer(t, "graphmesh_ingest_ready{ 1\n")
	if _, err := ScrapeMetrics(context.Background(), srv.Client(), srv.URL, "graphmesh_"); err == nil {
		t.Error("ScrapeMetrics() should fail on malformed exposition")
	}
}

func TestPing_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if _, err := Ping(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Error("Ping() should fail on 503")
	}
}

func TestBaseURL(t *testing.T) {
	if got := BaseURL("127.0.0.1:7480"); got != "http://127.0.0.1:7480" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := BaseURL("https://gm.example/"); got != "https://gm.example" {
		t.Errorf("BaseURL = %q", got)
	}
}
