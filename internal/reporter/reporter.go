// Package reporter carries engine results to whoever listens.
//
// Engines write measurement and trace events to a [Reporter]. The
// [Emitter] implementation queues them and fans them out to listeners on its
// own goroutine, so a slow sink never stalls a run loop.
package reporter

import "time"

// Measurement names emitted by the pipeline.
const (
	ResponseTime = "response_time"
	Concurrency  = "concurrency"
	Passed       = "passed"
	Failed       = "failed"
	Latency      = "latency"
)

// Measurement is a point-in-time metric sample.
type Measurement struct {
	Measurement string  `json:"measurement"`
	Value       float64 `json:"value"`
}

// AssertionRecord is one failed assertion captured during a step.
type AssertionRecord struct {
	AssertionName string   `json:"assertionName"`
	Message       string   `json:"message"`
	Stack         []string `json:"stack"`
}

// TraceData bundles the outcome of one reportable unit of work.
type TraceData struct {
	ObjectTypes []string          `json:"objectTypes"`
	Assertions  []AssertionRecord `json:"assertions"`
	Screenshots []string          `json:"screenshots,omitempty"`
}

// Failed reports whether the trace captured at least one assertion.
func (d TraceData) Failed() bool {
	return len(d.Assertions) > 0
}

// Reporter receives engine events. Implementations must not block.
type Reporter interface {
	Measurement(m Measurement)
	Trace(label string, responseCode int, data TraceData)
}

// Kind distinguishes the two event shapes.
type Kind string

const (
	KindMeasurement Kind = "measurement"
	KindTrace       Kind = "trace"
)

// Trace is the payload of a trace event.
type Trace struct {
	Label        string    `json:"label"`
	ResponseCode int       `json:"responseCode"`
	Data         TraceData `json:"data"`
}

// Event is what listeners receive. VU identifies the virtual user that
// produced it when the reporter was scoped with [Emitter.For].
type Event struct {
	Kind        Kind         `json:"kind"`
	Time        time.Time    `json:"time"`
	VU          string       `json:"vu,omitempty"`
	Measurement *Measurement `json:"measurement,omitempty"`
	Trace       *Trace       `json:"trace,omitempty"`
}

// Listener consumes events. Handle is called from a single goroutine.
type Listener interface {
	Handle(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) Handle(ev Event) { f(ev) }

// Discard drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Measurement(Measurement)      {}
func (discard) Trace(string, int, TraceData) {}
