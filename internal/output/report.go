package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/threshold"
)

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w, "\n--- Browser Test Results ---")
	fmt.Fprintf(w, "Iterations:        %d\n", stats.Iterations)
	fmt.Fprintf(w, "Passed:            %d\n", stats.Passed)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failed)
	fmt.Fprintf(w, "Steps:             %d\n", stats.Steps)
	if stats.Interrupted > 0 {
		fmt.Fprintf(w, "Interrupted:       %d\n", stats.Interrupted)
	}
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Iterations/sec:    %.2f\n", stats.IterationsPerSec)
	fmt.Fprintln(w, "\nResponse Time:")
	fmt.Fprintf(w, "  Min:             %s\n", formatMs(stats.MinResponseMs))
	fmt.Fprintf(w, "  Max:             %s\n", formatMs(stats.MaxResponseMs))
	fmt.Fprintf(w, "  Mean:            %s\n", formatMs(stats.MeanResponseMs))
	fmt.Fprintf(w, "  P50:             %s\n", formatMs(stats.P50ResponseMs))
	fmt.Fprintf(w, "  P90:             %s\n", formatMs(stats.P90ResponseMs))
	fmt.Fprintf(w, "  P95:             %s\n", formatMs(stats.P95ResponseMs))
	fmt.Fprintf(w, "  P99:             %s\n", formatMs(stats.P99ResponseMs))
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Mean:            %s\n", formatMs(stats.MeanLatencyMs))
	fmt.Fprintf(w, "  P95:             %s\n", formatMs(stats.P95LatencyMs))

	if len(stats.StepBreakdown) > 0 {
		fmt.Fprintln(w, "\nStep Breakdown:")
		for _, name := range stepsByCount(stats) {
			step := stats.StepBreakdown[name]
			share := 0.0
			if stats.Steps > 0 {
				share = (float64(step.Count) / float64(stats.Steps)) * 100
			}
			fmt.Fprintf(
				w,
				"  - %s: count=%d (%.1f%%), failures=%d, mean=%s, p95=%s, p99=%s\n",
				name,
				step.Count,
				share,
				step.Failures,
				formatMs(step.MeanMs),
				formatMs(step.P95Ms),
				formatMs(step.P99Ms),
			)
		}
	}

	if len(stats.ResponseCodes) > 0 {
		fmt.Fprintln(w, "\nResponse Codes:")
		writeStatusBuckets(w, stats.ResponseCodes, "  ")
	}

	if len(stats.Assertions) > 0 {
		fmt.Fprintln(w, "\nAssertions:")
		writeCounts(w, stats.Assertions, "  ", nil)
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		writeCounts(w, stats.Errors, "  ", metrics.ErrorLabel)
	}
}

// PrintThresholds outputs one line per evaluated threshold and returns the
// number that failed.
func PrintThresholds(w io.Writer, results []threshold.Result) int {
	if len(results) == 0 {
		return 0
	}
	failed := 0
	fmt.Fprintln(w, "\nThresholds:")
	for _, r := range results {
		if !r.Pass {
			failed++
		}
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	fmt.Fprintf(w, "  %d/%d passed\n", len(results)-failed, len(results))
	return failed
}

// JSONReport is the document written by PrintJSONReport.
type JSONReport struct {
	metrics.Stats
	Thresholds *ThresholdSummary `json:"thresholds,omitempty"`
}

// ThresholdSummary aggregates threshold outcomes for machine readable reports.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is a single evaluated threshold.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// SummarizeThresholds converts evaluated thresholds into a ThresholdSummary.
// It returns nil when there is nothing to summarise.
func SummarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.Stats, results []threshold.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(JSONReport{Stats: stats, Thresholds: SummarizeThresholds(results)})
}

func stepsByCount(stats metrics.Stats) []string {
	names := stats.StepNames()
	sort.SliceStable(names, func(i, j int) bool {
		return stats.StepBreakdown[names[i]].Count > stats.StepBreakdown[names[j]].Count
	})
	return names
}

func writeStatusBuckets(w io.Writer, buckets map[string]map[string]int, indent string) {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s %s: %d\n", indent, row.Step, row.Code, row.Count)
	}
}

func writeCounts(w io.Writer, counts map[string]int, indent string, label func(string) string) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})
	for _, k := range keys {
		name := k
		if label != nil {
			name = label(k)
		}
		fmt.Fprintf(w, "%s%s: %d\n", indent, name, counts[k])
	}
}

func formatMs(ms float64) string {
	return fmt.Sprintf("%.2fms", ms)
}
