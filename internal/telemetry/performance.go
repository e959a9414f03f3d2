package telemetry

import (
	"strconv"
	"time"
)

// RecordFetch records metrics for one artifact transfer
func (c *Collector) RecordFetch(name string, size int64, duration time.Duration, success bool) {
	labels := map[string]string{
		"artifact":  name,
		"component": "fetch",
	}

	c.Timer("pyrevanced_fetch_duration", duration, labels)
	if !success {
		c.Counter("pyrevanced_fetch_failed", 1, labels)
		return
	}
	c.Counter("pyrevanced_fetch_successful", 1, labels)
	c.Gauge("pyrevanced_fetch_size_bytes", float64(size), "By", labels)
	if duration.Seconds() > 0 {
		c.Gauge("pyrevanced_fetch_throughput_mbps", float64(size)/(1024*1024)/duration.Seconds(), "MiBy/s", labels)
	}
}

// RecordEngine records the duration and outcome of a patch engine run
func (c *Collector) RecordEngine(duration time.Duration, exitCode int) {
	labels := map[string]string{"component": "engine", "exit_code": strconv.Itoa(exitCode)}
	c.Timer("pyrevanced_engine_duration", duration, labels)
	if exitCode != 0 {
		c.Counter("pyrevanced_engine_failed", 1, labels)
	}
}

// TimerScope represents a scoped timer for measuring durations
type TimerScope struct {
	startTime time.Time
	name      string
	labels    map[string]string
	collector *Collector
}

// StartTimer creates a new timer scope
func (c *Collector) StartTimer(name string, labels map[string]string) *TimerScope {
	return &TimerScope{
		startTime: time.Now(),
		name:      name,
		labels:    labels,
		collector: c,
	}
}

// End completes the timer and records the duration
func (ts *TimerScope) End() time.Duration {
	duration := time.Since(ts.startTime)
	ts.collector.Timer(ts.name, duration, ts.labels)
	return duration
}
