package threshold

import (
	"math"
	"testing"
	"time"

	"github.com/torosent/pagerunner/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p95 response time threshold",
			input: "response_time:p95 < 3000",
			want: Threshold{
				Metric:    "response_time",
				Aggregate: "p95",
				Operator:  "<",
				Value:     3000,
				Raw:       "response_time:p95 < 3000",
			},
		},
		{
			name:  "valid failure rate threshold",
			input: "failed:rate < 0.1",
			want: Threshold{
				Metric:    "failed",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.1,
				Raw:       "failed:rate < 0.1",
			},
		},
		{
			name:  "failure count with ==",
			input: "failed:count == 0",
			want: Threshold{
				Metric:    "failed",
				Aggregate: "count",
				Operator:  "==",
				Value:     0,
				Raw:       "failed:count == 0",
			},
		},
		{
			name:  "iterations with >= and no spaces",
			input: "iterations:count>=1",
			want: Threshold{
				Metric:    "iterations",
				Aggregate: "count",
				Operator:  ">=",
				Value:     1,
				Raw:       "iterations:count>=1",
			},
		},
		{
			name:  "latency avg",
			input: "  latency:avg < 500  ",
			want: Threshold{
				Metric:    "latency",
				Aggregate: "avg",
				Operator:  "<",
				Value:     500,
				Raw:       "latency:avg < 500",
			},
		},
		{
			name:      "empty string",
			input:     "",
			wantError: true,
		},
		{
			name:      "invalid format - missing operator",
			input:     "response_time:p95 500",
			wantError: true,
		},
		{
			name:      "invalid metric",
			input:     "http_req_duration:p95 < 500",
			wantError: true,
		},
		{
			name:      "invalid aggregate",
			input:     "response_time:p85 < 500",
			wantError: true,
		},
		{
			name:      "aggregate not offered by metric",
			input:     "failed:p95 < 1",
			wantError: true,
		},
		{
			name:      "invalid operator",
			input:     "response_time:p95 << 500",
			wantError: true,
		},
		{
			name:      "invalid value - not a number",
			input:     "response_time:p95 < abc",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		wantCount int
		wantError bool
	}{
		{
			name: "multiple valid thresholds",
			input: []string{
				"response_time:p95 < 3000",
				"failed:rate < 0.1",
				"iterations:count >= 1",
			},
			wantCount: 3,
		},
		{
			name:      "empty slice",
			input:     []string{},
			wantCount: 0,
		},
		{
			name: "one valid, one invalid",
			input: []string{
				"response_time:p95 < 3000",
				"invalid threshold",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultiple(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseMultiple() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && len(got) != tt.wantCount {
				t.Errorf("ParseMultiple() returned %d thresholds, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func sampleStats() metrics.Stats {
	return metrics.Stats{
		Steps:            400,
		Interrupted:      3,
		Iterations:       100,
		Passed:           95,
		Failed:           5,
		Duration:         50 * time.Second,
		IterationsPerSec: 2,
		MinResponseMs:    120.5,
		MaxResponseMs:    4200,
		MeanResponseMs:   850.25,
		P50ResponseMs:    700,
		P90ResponseMs:    1900,
		P95ResponseMs:    2400.5,
		P99ResponseMs:    3900,
		MeanLatencyMs:    180,
		P95LatencyMs:     420,
		Assertions:       map[string]int{"AssertionError": 4, "ConditionTimeout": 2},
	}
}

func TestEvaluator(t *testing.T) {
	stats := sampleStats()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all thresholds pass",
			thresholds: []string{
				"response_time:p95 < 3000",
				"failed:rate < 0.1",
				"iterations:count >= 1",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "some thresholds fail",
			thresholds: []string{
				"response_time:p99 < 3000",
				"failed:count == 0",
				"latency:avg < 500",
			},
			wantPass: []bool{false, false, true},
		},
		{
			name: "response time aggregates",
			thresholds: []string{
				"response_time:p50 < 1000",
				"response_time:p90 < 2000",
				"response_time:avg < 900",
				"response_time:max < 5000",
				"response_time:min > 100",
			},
			wantPass: []bool{true, true, true, true, true},
		},
		{
			name: "counts",
			thresholds: []string{
				"steps:count >= 400",
				"interrupted:count == 3",
				"assertions:count < 6",
				"passed:rate >= 0.95",
				"iterations:rate > 1.5",
			},
			wantPass: []bool{true, true, false, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			evaluator := NewEvaluator(thresholds)
			results := evaluator.Evaluate(stats)

			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}

			for i, result := range results {
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
			}

			wantFailed := false
			for _, p := range tt.wantPass {
				wantFailed = wantFailed || !p
			}
			if Failed(results) != wantFailed {
				t.Errorf("Failed() = %v, want %v", Failed(results), wantFailed)
			}
		})
	}
}

func TestEvaluatorNoThresholds(t *testing.T) {
	if results := NewEvaluator(nil).Evaluate(sampleStats()); results != nil {
		t.Errorf("Evaluate() = %v, want nil", results)
	}
	if Failed(nil) {
		t.Error("Failed(nil) = true")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than false", 100, "<", 50, false},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal true", 50, "<=", 100, true},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than false", 50, ">", 100, false},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal true", 150, ">=", 100, true},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.actual, tt.operator, tt.expected)
			if got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v",
					tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	stats := sampleStats()

	tests := []struct {
		name      string
		threshold Threshold
		want      float64
		wantError bool
	}{
		{"response_time p50", Threshold{Metric: "response_time", Aggregate: "p50"}, 700, false},
		{"response_time p95", Threshold{Metric: "response_time", Aggregate: "p95"}, 2400.5, false},
		{"response_time avg", Threshold{Metric: "response_time", Aggregate: "avg"}, 850.25, false},
		{"latency p95", Threshold{Metric: "latency", Aggregate: "p95"}, 420, false},
		{"failed rate", Threshold{Metric: "failed", Aggregate: "rate"}, 0.05, false},
		{"failed count", Threshold{Metric: "failed", Aggregate: "count"}, 5, false},
		{"passed rate", Threshold{Metric: "passed", Aggregate: "rate"}, 0.95, false},
		{"iterations rate", Threshold{Metric: "iterations", Aggregate: "rate"}, 2, false},
		{"assertions count", Threshold{Metric: "assertions", Aggregate: "count"}, 6, false},
		{"unsupported aggregate", Threshold{Metric: "latency", Aggregate: "p99"}, 0, true},
		{"unknown metric", Threshold{Metric: "rps", Aggregate: "count"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMetricValue(tt.threshold, stats)
			if (err != nil) != tt.wantError {
				t.Fatalf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateReportsExtractionErrors(t *testing.T) {
	results := NewEvaluator([]Threshold{{Metric: "rps", Aggregate: "count", Operator: "<", Raw: "rps:count < 1"}}).Evaluate(sampleStats())
	if len(results) != 1 || results[0].Pass {
		t.Fatalf("results = %+v, want one failure", results)
	}
}

func TestFailureRateWithoutIterations(t *testing.T) {
	got, err := extractMetricValue(Threshold{Metric: "failed", Aggregate: "rate"}, metrics.Stats{})
	if err != nil || got != 0 {
		t.Errorf("failed:rate with no iterations = %v, %v; want 0, nil", got, err)
	}
}
