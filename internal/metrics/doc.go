// Package metrics turns step and iteration outcomes into measurements.
//
// # Pipeline
//
// Each engine owns one [Pipeline]. It emits measurement events to the
// engine's reporter at two ticks:
//
//	p.BeginIteration()
//	p.Step(metrics.StepSample{Name: "Home", Elapsed: d}) // response_time, latency, concurrency
//	p.Boundary()                                          // after the step's trace
//	p.EndIteration()                                      // passed, failed, concurrency
//
// The response_time value depends on the configured granularity:
//   - step: wall time of the step action
//   - page: the network recorder's accumulation, for steps that loaded a document
//   - network: the network recorder's accumulation, for every step
//
// Boundary resets the network accumulation at each trace so consecutive
// traces never double count a request.
//
// # Collector
//
// The [Collector] aggregates the same outcomes across every virtual user
// into hdrhistogram percentiles and per-step breakdowns for the summary
// report, the dashboard and thresholds:
//
//	stats := collector.Stats(elapsed)
//
// Both types are safe for concurrent use.
package metrics
