package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/pagerunner/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "response_time", "failed", "iterations"
	Aggregate string  // e.g., "p95", "avg", "count", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		result := e.evaluateOne(t, stats)
		results = append(results, result)
	}
	return results
}

func (e *Evaluator) evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "response_time:p95 < 3000"   (step response time percentile in ms)
// - "response_time:avg < 1000"   (mean response time in ms)
// - "latency:avg < 500"          (time to first response in ms)
// - "failed:count == 0"          (iterations that captured an assertion)
// - "failed:rate < 0.1"          (failed iterations over all iterations)
// - "iterations:count >= 1"      (completed iterations)
// - "iterations:rate > 2"        (iterations per second)
// - "assertions:count < 5"       (assertion records, condition timeouts included)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	// Pattern: metric:aggregate operator value
	// e.g., "response_time:p95 < 3000"
	pattern := regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)
	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'response_time:p95 < 3000')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	// Validate metric
	if !isValidMetric(metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(validMetrics, ", "))
	}

	// Validate aggregate
	if !isValidAggregate(metric, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(validAggregates[metric], ", "))
	}

	// Validate operator
	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var validAggregates = map[string][]string{
	"response_time": {"p50", "p90", "p95", "p99", "avg", "min", "max"},
	"latency":       {"avg", "p95"},
	"failed":        {"count", "rate"},
	"passed":        {"count", "rate"},
	"iterations":    {"count", "rate"},
	"steps":         {"count"},
	"interrupted":   {"count"},
	"assertions":    {"count"},
}

var validMetrics = []string{"response_time", "latency", "failed", "passed", "iterations", "steps", "interrupted", "assertions"}

func isValidMetric(metric string) bool {
	_, ok := validAggregates[metric]
	return ok
}

func isValidAggregate(metric, aggregate string) bool {
	for _, v := range validAggregates[metric] {
		if aggregate == v {
			return true
		}
	}
	return false
}

func isValidOperator(operator string) bool {
	valid := []string{"<", "<=", ">", ">=", "=="}
	for _, v := range valid {
		if operator == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	switch t.Metric {
	case "response_time":
		return extractResponseMetric(t.Aggregate, stats)
	case "latency":
		switch t.Aggregate {
		case "avg":
			return stats.MeanLatencyMs, nil
		case "p95":
			return stats.P95LatencyMs, nil
		}
	case "failed":
		switch t.Aggregate {
		case "count":
			return float64(stats.Failed), nil
		case "rate":
			return stats.FailureRate(), nil
		}
	case "passed":
		switch t.Aggregate {
		case "count":
			return float64(stats.Passed), nil
		case "rate":
			if stats.Iterations == 0 {
				return 0, nil
			}
			return float64(stats.Passed) / float64(stats.Iterations), nil
		}
	case "iterations":
		switch t.Aggregate {
		case "count":
			return float64(stats.Iterations), nil
		case "rate":
			return stats.IterationsPerSec, nil
		}
	case "steps":
		return float64(stats.Steps), nil
	case "interrupted":
		return float64(stats.Interrupted), nil
	case "assertions":
		total := 0
		for _, n := range stats.Assertions {
			total += n
		}
		return float64(total), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
}

func extractResponseMetric(aggregate string, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "p50":
		return stats.P50ResponseMs, nil
	case "p90":
		return stats.P90ResponseMs, nil
	case "p95":
		return stats.P95ResponseMs, nil
	case "p99":
		return stats.P99ResponseMs, nil
	case "avg", "mean":
		return stats.MeanResponseMs, nil
	case "min":
		return stats.MinResponseMs, nil
	case "max":
		return stats.MaxResponseMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for response_time", aggregate)
	}
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return true
		}
	}
	return false
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
