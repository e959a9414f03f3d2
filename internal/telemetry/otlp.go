package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// OTLPExporter posts the metrics of a run to an OTLP/HTTP JSON endpoint.
type OTLPExporter struct {
	endpoint string
	version  string
	client   *http.Client
}

// NewOTLPExporter creates an exporter reporting as pyrevanced at version.
func NewOTLPExporter(endpoint, version string) *OTLPExporter {
	return &OTLPExporter{
		endpoint: endpoint,
		version:  version,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Wire shapes. A run produces counters and point-in-time readings only, so
// the payload carries delta sums and gauges.
type (
	exportRequest struct {
		ResourceMetrics []resourceMetrics `json:"resourceMetrics"`
	}
	resourceMetrics struct {
		Resource     resource       `json:"resource"`
		ScopeMetrics []scopeMetrics `json:"scopeMetrics"`
	}
	resource struct {
		Attributes []keyValue `json:"attributes"`
	}
	scopeMetrics struct {
		Scope   scope        `json:"scope"`
		Metrics []metricData `json:"metrics"`
	}
	scope struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	metricData struct {
		Name  string `json:"name"`
		Unit  string `json:"unit,omitempty"`
		Sum   *sum   `json:"sum,omitempty"`
		Gauge *gauge `json:"gauge,omitempty"`
	}
	sum struct {
		DataPoints             []dataPoint `json:"dataPoints"`
		AggregationTemporality int         `json:"aggregationTemporality"`
		IsMonotonic            bool        `json:"isMonotonic"`
	}
	gauge struct {
		DataPoints []dataPoint `json:"dataPoints"`
	}
	dataPoint struct {
		Attributes   []keyValue `json:"attributes,omitempty"`
		TimeUnixNano int64      `json:"timeUnixNano,string"`
		AsDouble     float64    `json:"asDouble"`
	}
	keyValue struct {
		Key   string    `json:"key"`
		Value anyString `json:"value"`
	}
	anyString struct {
		StringValue string `json:"stringValue"`
	}
)

const temporalityDelta = 1

// Export sends metrics to the endpoint in one request.
func (e *OTLPExporter) Export(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	body, err := json.Marshal(e.request(metrics))
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode)
	}
	log.Debug().Str("endpoint", e.endpoint).Int("metric_count", len(metrics)).Msg("exported run metrics")
	return nil
}

// request groups samples by metric name, so the fetch metrics of every
// artifact land in one metric with a data point per artifact.
func (e *OTLPExporter) request(metrics []Metric) exportRequest {
	var out []metricData
	index := map[string]int{}
	for _, m := range metrics {
		i, ok := index[m.Name]
		if !ok {
			i = len(out)
			index[m.Name] = i
			md := metricData{Name: m.Name, Unit: unitOf(m)}
			if m.Type == Counter {
				md.Sum = &sum{AggregationTemporality: temporalityDelta, IsMonotonic: true}
			} else {
				md.Gauge = &gauge{}
			}
			out = append(out, md)
		}
		dp := dataPoint{Attributes: attributes(m.Labels), TimeUnixNano: m.Timestamp.UnixNano(), AsDouble: m.Value}
		if out[i].Sum != nil {
			out[i].Sum.DataPoints = append(out[i].Sum.DataPoints, dp)
		} else {
			out[i].Gauge.DataPoints = append(out[i].Gauge.DataPoints, dp)
		}
	}

	return exportRequest{ResourceMetrics: []resourceMetrics{{
		Resource: resource{Attributes: []keyValue{
			{Key: "service.name", Value: anyString{"pyrevanced"}},
			{Key: "service.version", Value: anyString{e.version}},
		}},
		ScopeMetrics: []scopeMetrics{{
			Scope:   scope{Name: "github.com/aliharslan0/pyrevanced", Version: e.version},
			Metrics: out,
		}},
	}}}
}

// unitOf returns the UCUM unit of m. Counters count events.
func unitOf(m Metric) string {
	if m.Unit != "" {
		return m.Unit
	}
	if m.Type == Counter {
		return "1"
	}
	return ""
}

func attributes(labels map[string]string) []keyValue {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]keyValue, len(keys))
	for i, k := range keys {
		kvs[i] = keyValue{Key: k, Value: anyString{labels[k]}}
	}
	return kvs
}
