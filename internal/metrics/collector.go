package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// StepRecord is one executed step as seen by the Collector.
type StepRecord struct {
	Name string
	// ResponseTime is the granularity specific value in milliseconds. It is
	// only meaningful when HasResponseTime is set.
	ResponseTime    float64
	HasResponseTime bool
	Latency         time.Duration
	ResponseCode    int
	Assertions      []string
	Interrupted     bool
}

// Collector aggregates step and iteration outcomes from every virtual user.
// It is safe for concurrent use.
type Collector struct {
	mu            sync.Mutex
	responseTimes *hdrhistogram.Histogram
	latencies     *hdrhistogram.Histogram
	steps         map[string]*stepAgg
	codes         map[string]map[string]int
	assertions    map[string]int64
	errorsByType  map[string]int64

	stepCount   int64
	interrupted int64
	iterations  int64
	passed      int64
	failed      int64
	sumResponse float64
	minResponse float64
	maxResponse float64
	sumLatency  time.Duration

	start   time.Time
	history []Snapshot
}

type stepAgg struct {
	hist     *hdrhistogram.Histogram
	count    int64
	failures int64
	sum      float64
}

// Snapshot is a point on the progress history used by the dashboard.
type Snapshot struct {
	Time       time.Time `json:"time"`
	Steps      int64     `json:"steps"`
	Iterations int64     `json:"iterations"`
	Failed     int64     `json:"failed"`
	P95Ms      float64   `json:"p95_ms"`
}

// StepStats summarises one step name across all iterations.
type StepStats struct {
	Count    int64   `json:"count"`
	Failures int64   `json:"failures"`
	MeanMs   float64 `json:"mean_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// Stats represents aggregated metrics.
type Stats struct {
	Steps            int64         `json:"steps"`
	Interrupted      int64         `json:"interrupted"`
	Iterations       int64         `json:"iterations"`
	Passed           int64         `json:"passed"`
	Failed           int64         `json:"failed"`
	Duration         time.Duration `json:"-"`
	IterationsPerSec float64       `json:"iterations_per_sec"`

	// Response times are milliseconds, as reported by the pipeline.
	MinResponseMs  float64 `json:"min_response_ms"`
	MaxResponseMs  float64 `json:"max_response_ms"`
	MeanResponseMs float64 `json:"mean_response_ms"`
	P50ResponseMs  float64 `json:"p50_response_ms"`
	P90ResponseMs  float64 `json:"p90_response_ms"`
	P95ResponseMs  float64 `json:"p95_response_ms"`
	P99ResponseMs  float64 `json:"p99_response_ms"`

	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	DurationMs    float64 `json:"duration_ms"`

	StepBreakdown map[string]StepStats      `json:"step_breakdown,omitempty"`
	Assertions    map[string]int            `json:"assertions,omitempty"`
	Errors        map[string]int            `json:"errors,omitempty"`
	ResponseCodes map[string]map[string]int `json:"response_codes,omitempty"`
}

// FailureRate is failed iterations over all iterations.
func (s Stats) FailureRate() float64 {
	if s.Iterations == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Iterations)
}

func newHistogram() *hdrhistogram.Histogram {
	// Track values from 1µs up to one hour with 3 significant figures.
	return hdrhistogram.New(1, 3_600_000_000, 3)
}

func NewCollector() *Collector {
	return &Collector{
		responseTimes: newHistogram(),
		latencies:     newHistogram(),
		steps:         make(map[string]*stepAgg),
		codes:         make(map[string]map[string]int),
		assertions:    make(map[string]int64),
		errorsByType:  make(map[string]int64),
		start:         time.Now(),
	}
}

// Start resets the clock used for rates.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Elapsed is the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordStep records one executed step.
func (c *Collector) RecordStep(rec StepRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stepCount++
	if rec.Interrupted {
		c.interrupted++
	}

	agg := c.steps[rec.Name]
	if agg == nil {
		agg = &stepAgg{hist: newHistogram()}
		c.steps[rec.Name] = agg
	}
	agg.count++
	if len(rec.Assertions) > 0 {
		agg.failures++
	}
	for _, name := range rec.Assertions {
		c.assertions[name]++
	}

	if rec.HasResponseTime {
		ms := rec.ResponseTime
		record(c.responseTimes, ms)
		record(agg.hist, ms)
		agg.sum += ms
		c.sumResponse += ms
		if c.responseTimes.TotalCount() == 1 || ms < c.minResponse {
			c.minResponse = ms
		}
		if ms > c.maxResponse {
			c.maxResponse = ms
		}
	}
	if rec.Latency > 0 {
		record(c.latencies, float64(rec.Latency)/float64(time.Millisecond))
		c.sumLatency += rec.Latency
	}

	if rec.ResponseCode > 0 {
		codes := c.codes[rec.Name]
		if codes == nil {
			codes = make(map[string]int)
			c.codes[rec.Name] = codes
		}
		codes[strconv.Itoa(rec.ResponseCode)]++
	}
}

// RecordIteration records the outcome of a finished iteration.
func (c *Collector) RecordIteration(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterations++
	if failed {
		c.failed++
	} else {
		c.passed++
	}
}

// RecordError counts an infrastructure error by its Go type.
func (c *Collector) RecordError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	errorType := fmt.Sprintf("%T", err)
	if len(errorType) > 30 {
		errorType = errorType[len(errorType)-30:]
	}
	c.errorsByType[errorType]++
}

// Snapshot appends the current totals to the history.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Time:       time.Now(),
		Steps:      c.stepCount,
		Iterations: c.iterations,
		Failed:     c.failed,
		P95Ms:      quantile(c.responseTimes, 95),
	}
	c.history = append(c.history, s)
	return s
}

// History returns every snapshot taken so far.
func (c *Collector) History() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.history...)
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Steps:       c.stepCount,
		Interrupted: c.interrupted,
		Iterations:  c.iterations,
		Passed:      c.passed,
		Failed:      c.failed,
	}

	if n := c.responseTimes.TotalCount(); n > 0 {
		stats.MinResponseMs = c.minResponse
		stats.MaxResponseMs = c.maxResponse
		stats.MeanResponseMs = c.sumResponse / float64(n)
		stats.P50ResponseMs = quantile(c.responseTimes, 50)
		stats.P90ResponseMs = quantile(c.responseTimes, 90)
		stats.P95ResponseMs = quantile(c.responseTimes, 95)
		stats.P99ResponseMs = quantile(c.responseTimes, 99)
	}
	if n := c.latencies.TotalCount(); n > 0 {
		stats.MeanLatencyMs = float64(c.sumLatency) / float64(time.Millisecond) / float64(n)
		stats.P95LatencyMs = quantile(c.latencies, 95)
	}

	stats.Duration = elapsed
	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)
	if elapsed > 0 && c.iterations > 0 {
		stats.IterationsPerSec = float64(c.iterations) / elapsed.Seconds()
	}

	if len(c.steps) > 0 {
		stats.StepBreakdown = make(map[string]StepStats, len(c.steps))
		for name, agg := range c.steps {
			ss := StepStats{Count: agg.count, Failures: agg.failures}
			if n := agg.hist.TotalCount(); n > 0 {
				ss.MeanMs = agg.sum / float64(n)
				ss.P50Ms = quantile(agg.hist, 50)
				ss.P95Ms = quantile(agg.hist, 95)
				ss.P99Ms = quantile(agg.hist, 99)
			}
			stats.StepBreakdown[name] = ss
		}
	}
	if len(c.assertions) > 0 {
		stats.Assertions = make(map[string]int, len(c.assertions))
		for k, v := range c.assertions {
			stats.Assertions[k] = int(v)
		}
	}
	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}
	if len(c.codes) > 0 {
		stats.ResponseCodes = make(map[string]map[string]int, len(c.codes))
		for step, codes := range c.codes {
			cp := make(map[string]int, len(codes))
			for code, n := range codes {
				cp[code] = n
			}
			stats.ResponseCodes[step] = cp
		}
	}

	return stats
}

// StepNames returns the recorded step names sorted alphabetically.
func (s Stats) StepNames() []string {
	names := make([]string, 0, len(s.StepBreakdown))
	for name := range s.StepBreakdown {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func record(h *hdrhistogram.Histogram, ms float64) {
	us := int64(ms * 1000)
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

func quantile(h *hdrhistogram.Histogram, q float64) float64 {
	if h.TotalCount() == 0 {
		return 0
	}
	return float64(h.ValueAtQuantile(q)) / 1000
}
