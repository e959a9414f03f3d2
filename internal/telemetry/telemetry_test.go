package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledCollectorDrops(t *testing.T) {
	c := NewCollector(false)
	c.Counter("x", 1, nil)
	c.RecordFetch("cli.jar", 10, time.Second, true)
	if n := len(c.GetMetrics()); n != 0 {
		t.Fatalf("expected no metrics, got %d", n)
	}
}

func TestRecordFetch(t *testing.T) {
	c := NewCollector(true)
	c.RecordFetch("cli.jar", 2<<20, 2*time.Second, true)
	c.RecordFetch("patches.jar", 0, time.Second, false)

	s := c.Summary()
	if s["pyrevanced_fetch_successful"] != 1 {
		t.Errorf("expected 1 successful fetch, got %v", s["pyrevanced_fetch_successful"])
	}
	if s["pyrevanced_fetch_failed"] != 1 {
		t.Errorf("expected 1 failed fetch, got %v", s["pyrevanced_fetch_failed"])
	}
	if s["pyrevanced_fetch_throughput_mbps"] != 1 {
		t.Errorf("expected 1 MB/s, got %v", s["pyrevanced_fetch_throughput_mbps"])
	}
	if s["pyrevanced_fetch_duration"] != 3000 {
		t.Errorf("expected 3000ms total, got %v", s["pyrevanced_fetch_duration"])
	}
}

func TestFlushClears(t *testing.T) {
	c := NewCollector(true)
	c.RecordEngine(time.Millisecond, 1)
	c.StartTimer("scope", nil).End()
	if len(c.GetMetrics()) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(c.GetMetrics()))
	}
	c.Flush(context.Background())
	if len(c.GetMetrics()) != 0 {
		t.Fatalf("expected metrics cleared after flush")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Counter("x", 1, nil)
	c.Flush(context.Background())
	if c.GetMetrics() != nil {
		t.Fatalf("nil collector should report nothing")
	}
}

func TestFlushExportsOTLP(t *testing.T) {
	var got exportRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	c := NewCollector(true)
	c.SetExporter(NewOTLPExporter(srv.URL, "test"))
	c.RecordFetch("cli.jar", 1<<20, time.Second, true)
	c.RecordFetch("patches.jar", 2<<20, time.Second, true)
	c.RecordEngine(time.Second, 3)
	c.Flush(context.Background())

	if len(got.ResourceMetrics) != 1 {
		t.Fatalf("expected one resource, got %d", len(got.ResourceMetrics))
	}
	rm := got.ResourceMetrics[0]
	if rm.Resource.Attributes[0].Value.StringValue != "pyrevanced" {
		t.Errorf("unexpected service name %+v", rm.Resource.Attributes[0])
	}
	byName := map[string]metricData{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}
	if len(byName) != 6 {
		t.Fatalf("expected 6 distinct metrics, got %d", len(byName))
	}

	size := byName["pyrevanced_fetch_size_bytes"]
	if size.Gauge == nil || size.Unit != "By" || len(size.Gauge.DataPoints) != 2 {
		t.Fatalf("size metric = %+v", size)
	}
	if a := size.Gauge.DataPoints[0].Attributes; a[0].Key != "artifact" || a[0].Value.StringValue != "cli.jar" {
		t.Errorf("expected artifact attribute first, got %+v", a)
	}
	if d := byName["pyrevanced_fetch_duration"]; d.Gauge == nil || d.Unit != "ms" {
		t.Errorf("duration metric = %+v", d)
	}
	ok := byName["pyrevanced_fetch_successful"]
	if ok.Sum == nil || !ok.Sum.IsMonotonic || ok.Unit != "1" || len(ok.Sum.DataPoints) != 2 {
		t.Errorf("success counter = %+v", ok)
	}
	failed := byName["pyrevanced_engine_failed"]
	if failed.Sum == nil {
		t.Fatalf("engine failure counter missing")
	}
	var exit string
	for _, kv := range failed.Sum.DataPoints[0].Attributes {
		if kv.Key == "exit_code" {
			exit = kv.Value.StringValue
		}
	}
	if exit != "3" {
		t.Errorf("exit_code attribute = %q", exit)
	}
	if len(c.GetMetrics()) != 0 {
		t.Fatalf("expected metrics cleared after export")
	}
}

func TestExportFailureFallsBackToLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCollector(true)
	c.SetExporter(NewOTLPExporter(srv.URL, "test"))
	c.Counter("x", 1, nil)
	if err := c.exporter.Export(context.Background(), c.GetMetrics()); err == nil {
		t.Fatal("expected export error for 502")
	}
	c.Flush(context.Background())
	if len(c.GetMetrics()) != 0 {
		t.Fatalf("expected metrics cleared after flush")
	}
}
