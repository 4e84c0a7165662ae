package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/pagerunner/internal/config"
	"github.com/torosent/pagerunner/internal/reporter"
)

// Network is the part of the network recorder the pipeline reads.
type Network interface {
	// ResponseTime is the summed request time in milliseconds since Reset.
	ResponseTime() float64
	// DocumentLoads counts main document responses since Reset.
	DocumentLoads() int
	Reset()
}

type noNetwork struct{}

func (noNetwork) ResponseTime() float64 { return 0 }
func (noNetwork) DocumentLoads() int    { return 0 }
func (noNetwork) Reset()                {}

// Gauge counts iterations in flight. One Gauge is shared by every engine of a
// run so the concurrency measurement reflects all virtual users.
type Gauge struct {
	n atomic.Int64
}

func (g *Gauge) Inc() int64   { return g.n.Add(1) }
func (g *Gauge) Dec() int64   { return g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// PipelineConfig wires a Pipeline. Reporter and Granularity are required in
// practice; the rest have usable zero values.
type PipelineConfig struct {
	Granularity config.Granularity
	Reporter    reporter.Reporter
	Network     Network
	Concurrency *Gauge
	Collector   *Collector
}

// StepSample is what the engine knows about a finished step.
type StepSample struct {
	Name string
	// Elapsed is the wall time of the step action alone.
	Elapsed time.Duration
	// Latency is dispatch to first observable response. It is zero when the
	// action drew no response; the collector then leaves it out.
	Latency      time.Duration
	ResponseCode int
	Assertions   []string
	Interrupted  bool
	// ActionSkipped is set when a precondition kept the action from running.
	// Step granularity then has no response time to report.
	ActionSkipped bool
}

// Totals are the cumulative counts across every iteration run so far.
type Totals struct {
	Iterations int64
	Passed     int64
	Failed     int64
	Steps      int64
}

// Pipeline turns step and iteration outcomes into measurements. Each engine
// owns exactly one.
type Pipeline struct {
	granularity config.Granularity
	rep         reporter.Reporter
	net         Network
	gauge       *Gauge
	collector   *Collector

	mu         sync.Mutex
	inFlight   bool
	iterFailed bool
	totals     Totals
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		granularity: cfg.Granularity,
		rep:         cfg.Reporter,
		net:         cfg.Network,
		gauge:       cfg.Concurrency,
		collector:   cfg.Collector,
	}
	if p.granularity == "" {
		p.granularity = config.GranularityStep
	}
	if p.rep == nil {
		p.rep = reporter.Discard
	}
	if p.net == nil {
		p.net = noNetwork{}
	}
	if p.gauge == nil {
		p.gauge = &Gauge{}
	}
	return p
}

// Granularity is the response time mode the pipeline was built with.
func (p *Pipeline) Granularity() config.Granularity {
	return p.granularity
}

// BeginIteration opens a new per-iteration pass/fail window.
func (p *Pipeline) BeginIteration() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return
	}
	p.inFlight = true
	p.iterFailed = false
	p.gauge.Inc()
}

// Step emits the step tick: response_time (when the granularity yields one),
// latency and concurrency. It returns the response time it emitted.
func (p *Pipeline) Step(s StepSample) (responseTime float64, emitted bool) {
	switch p.granularity {
	case config.GranularityPage:
		if p.net.DocumentLoads() > 0 {
			responseTime, emitted = p.net.ResponseTime(), true
		}
	case config.GranularityNetwork:
		responseTime, emitted = p.net.ResponseTime(), true
	default:
		if !s.ActionSkipped {
			responseTime, emitted = millis(s.Elapsed), true
		}
	}

	latency := s.Latency
	if latency < 0 {
		latency = 0
	}

	if emitted {
		p.rep.Measurement(reporter.Measurement{Measurement: reporter.ResponseTime, Value: responseTime})
	}
	p.rep.Measurement(reporter.Measurement{Measurement: reporter.Latency, Value: millis(latency)})
	p.rep.Measurement(reporter.Measurement{Measurement: reporter.Concurrency, Value: float64(p.gauge.Value())})

	p.mu.Lock()
	p.totals.Steps++
	if len(s.Assertions) > 0 {
		p.iterFailed = true
	}
	p.mu.Unlock()

	if p.collector != nil {
		p.collector.RecordStep(StepRecord{
			Name:            s.Name,
			ResponseTime:    responseTime,
			HasResponseTime: emitted,
			Latency:         latency,
			ResponseCode:    s.ResponseCode,
			Assertions:      s.Assertions,
			Interrupted:     s.Interrupted,
		})
	}
	return responseTime, emitted
}

// Boundary closes a trace: the network accumulation starts over so the next
// trace never counts requests the previous one already reported.
func (p *Pipeline) Boundary() {
	p.net.Reset()
}

// EndIteration emits the iteration tick and reports whether the iteration
// captured any assertion. Calling it without BeginIteration is a no-op.
func (p *Pipeline) EndIteration() (failed bool) {
	p.mu.Lock()
	if !p.inFlight {
		p.mu.Unlock()
		return false
	}
	failed = p.iterFailed
	p.inFlight = false
	p.iterFailed = false
	p.totals.Iterations++
	if failed {
		p.totals.Failed++
	} else {
		p.totals.Passed++
	}
	p.mu.Unlock()

	passed := 1.0
	failedValue := 0.0
	if failed {
		passed, failedValue = 0, 1
	}
	p.rep.Measurement(reporter.Measurement{Measurement: reporter.Passed, Value: passed})
	p.rep.Measurement(reporter.Measurement{Measurement: reporter.Failed, Value: failedValue})
	p.rep.Measurement(reporter.Measurement{Measurement: reporter.Concurrency, Value: float64(p.gauge.Value())})
	p.gauge.Dec()

	if p.collector != nil {
		p.collector.RecordIteration(failed)
	}
	return failed
}

// AbortIteration closes the open iteration without a tick. Runs that end on
// an infrastructure error use it so the gauge stays balanced.
func (p *Pipeline) AbortIteration() {
	p.mu.Lock()
	if !p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = false
	p.iterFailed = false
	p.mu.Unlock()
	p.gauge.Dec()
}

// IterationFailed reports whether the open iteration has captured an
// assertion so far.
func (p *Pipeline) IterationFailed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iterFailed
}

// Totals returns the cumulative counts, the sum of every per-iteration tick.
func (p *Pipeline) Totals() Totals {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
