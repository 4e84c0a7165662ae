package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/pagerunner/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	gauge     *metrics.Gauge
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
// gauge may be nil, in which case the active user count is not shown.
func NewProgressReporter(collector *metrics.Collector, gauge *metrics.Gauge, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		gauge:     gauge,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(p.collector.Stats(p.collector.Elapsed()), p.gauge))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats metrics.Stats, gauge *metrics.Gauge) string {
	line := fmt.Sprintf("\rIterations: %d | Passed: %d | Failed: %d | Steps: %d | P95: %.1fms",
		stats.Iterations, stats.Passed, stats.Failed, stats.Steps, stats.P95ResponseMs)
	if gauge != nil {
		line += fmt.Sprintf(" | Active: %d", gauge.Value())
	}
	if name, step, ok := slowestStep(stats); ok {
		line += fmt.Sprintf(" | Slowest: %s (P95 %.1fms)", name, step.P95Ms)
	}
	return line
}

func slowestStep(stats metrics.Stats) (string, metrics.StepStats, bool) {
	var (
		best  string
		found bool
	)
	for _, name := range stats.StepNames() {
		if !found || stats.StepBreakdown[name].P95Ms > stats.StepBreakdown[best].P95Ms {
			best = name
			found = true
		}
	}
	if !found {
		return "", metrics.StepStats{}, false
	}
	return best, stats.StepBreakdown[best], true
}
