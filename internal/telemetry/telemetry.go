package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric represents a telemetry metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector gathers the metrics of one run. A disabled collector drops everything.
type Collector struct {
	mu       sync.RWMutex
	metrics  []Metric
	enabled  bool
	exporter *OTLPExporter
}

// NewCollector creates a new telemetry collector
func NewCollector(enabled bool) *Collector {
	return &Collector{metrics: make([]Metric, 0), enabled: enabled}
}

// SetExporter makes Flush ship metrics to e instead of the log.
func (c *Collector) SetExporter(e *OTLPExporter) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.exporter = e
	c.mu.Unlock()
}

// Counter increments a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.add(Metric{Name: name, Type: Counter, Value: value, Labels: labels})
}

// Gauge records a single reading measured in unit.
func (c *Collector) Gauge(name string, value float64, unit string, labels map[string]string) {
	c.add(Metric{Name: name, Type: Gauge, Value: value, Labels: labels, Unit: unit})
}

// Timer records a duration measurement
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.add(Metric{Name: name, Type: Timer, Value: float64(duration.Milliseconds()), Labels: labels, Unit: "ms"})
}

func (c *Collector) add(m Metric) {
	if c == nil || !c.enabled {
		return
	}
	m.Timestamp = time.Now()
	c.mu.Lock()
	c.metrics = append(c.metrics, m)
	c.mu.Unlock()
}

// GetMetrics returns a copy of current metrics
func (c *Collector) GetMetrics() []Metric {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Metric, len(c.metrics))
	copy(result, c.metrics)
	return result
}

// Summary totals metric values by name.
func (c *Collector) Summary() map[string]float64 {
	out := map[string]float64{}
	for _, m := range c.GetMetrics() {
		out[m.Name] += m.Value
	}
	return out
}

// Flush exports and clears collected metrics. Without an exporter, or when
// the export fails, the metrics are written to the log.
func (c *Collector) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	c.mu.Lock()
	metrics := c.metrics
	exporter := c.exporter
	c.metrics = make([]Metric, 0)
	c.mu.Unlock()

	if len(metrics) == 0 {
		return
	}
	sort.SliceStable(metrics, func(i, j int) bool { return metrics[i].Timestamp.Before(metrics[j].Timestamp) })
	if exporter != nil {
		err := exporter.Export(ctx, metrics)
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("telemetry export failed")
	}
	log.Debug().Int("count", len(metrics)).Msg("Flushing telemetry metrics")
	for _, metric := range metrics {
		log.Info().
			Str("name", metric.Name).
			Str("type", string(metric.Type)).
			Float64("value", metric.Value).
			Str("unit", metric.Unit).
			Interface("labels", metric.Labels).
			Time("timestamp", metric.Timestamp).
			Msg("telemetry_metric")
	}
}
