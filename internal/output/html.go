package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt   string
	Stats         metrics.Stats
	History       []metrics.Snapshot
	Thresholds    *ThresholdSummary
	HistoryJSON   string
	StepNames     []string
	Assertions    []NamedCount
	ResponseCodes []metrics.StatusBucket
	Metadata      ReportMetadata
}

// ReportMetadata describes the run a report belongs to.
type ReportMetadata struct {
	Name        string
	Description string
	Script      string
	Users       int
	Granularity string
}

// NamedCount is one row of a count table.
type NamedCount struct {
	Name  string
	Count int
}

// GenerateHTMLReport generates a standalone HTML report with embedded charts.
func GenerateHTMLReport(w io.Writer, stats metrics.Stats, history []metrics.Snapshot, thresholdResults []threshold.Result, metadata ReportMetadata) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	assertions := make([]NamedCount, 0, len(stats.Assertions))
	for name, count := range stats.Assertions {
		assertions = append(assertions, NamedCount{Name: name, Count: count})
	}
	sort.Slice(assertions, func(i, j int) bool {
		if assertions[i].Count == assertions[j].Count {
			return assertions[i].Name < assertions[j].Name
		}
		return assertions[i].Count > assertions[j].Count
	})

	data := HTMLReportData{
		GeneratedAt:   time.Now().Format(time.RFC3339),
		Stats:         stats,
		History:       history,
		Thresholds:    SummarizeThresholds(thresholdResults),
		HistoryJSON:   string(historyJSON),
		StepNames:     stepsByCount(stats),
		Assertions:    assertions,
		ResponseCodes: metrics.FlattenStatusBuckets(stats.ResponseCodes),
		Metadata:      metadata,
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.Round(time.Millisecond).String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatMs": formatMs,
		"formatPercent": func(part, total int64) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{if .Metadata.Name}}{{.Metadata.Name}} - {{end}}Browser Test Report</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #0f766e 0%, #1e3a8a 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #0f766e;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card .subvalue {
            font-size: 0.85rem;
            color: #6c757d;
            margin-top: 5px;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            background: white;
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart-container h3 {
            font-size: 1.1rem;
            margin-bottom: 15px;
            color: #4b5563;
        }
        .chart {
            width: 100%;
            height: 280px;
        }
        .code {
            font-family: SFMono-Regular, Menlo, Consolas, monospace;
            font-size: 0.85rem;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
            margin-bottom: 5px;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>{{if .Metadata.Name}}{{.Metadata.Name}}{{else}}Browser Test Report{{end}}</h1>
            {{if .Metadata.Description}}<div class="meta">{{.Metadata.Description}}</div>{{end}}
            {{if .Metadata.Script}}<div class="meta">Script: <span class="code">{{.Metadata.Script}}</span> | Users: {{.Metadata.Users}} | Measurement: {{.Metadata.Granularity}}</div>{{end}}
            <div class="meta">Generated: {{.GeneratedAt}} | Duration: {{formatDuration .Stats.Duration}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Iterations</h3>
                    <div class="value">{{.Stats.Iterations}}</div>
                    <div class="subvalue">{{formatFloat .Stats.IterationsPerSec}}/sec</div>
                </div>
                <div class="card success">
                    <h3>Passed</h3>
                    <div class="value">{{.Stats.Passed}}</div>
                    <div class="subvalue">{{formatPercent .Stats.Passed .Stats.Iterations}}%</div>
                </div>
                <div class="card error">
                    <h3>Failed</h3>
                    <div class="value">{{.Stats.Failed}}</div>
                    <div class="subvalue">{{formatPercent .Stats.Failed .Stats.Iterations}}%</div>
                </div>
                <div class="card warning">
                    <h3>Steps</h3>
                    <div class="value">{{.Stats.Steps}}</div>
                    <div class="subvalue">{{.Stats.Interrupted}} interrupted</div>
                </div>
            </div>

            {{if .History}}
            <div class="section">
                <h2>Progress Over Time</h2>
                <div class="chart-container">
                    <h3>Iterations</h3>
                    <div id="iterations-chart" class="chart"></div>
                </div>
                <div class="chart-container">
                    <h3>Response Time P95 (ms)</h3>
                    <div id="p95-chart" class="chart"></div>
                </div>
            </div>
            {{end}}

            <div class="section">
                <h2>Response Time</h2>
                <div class="latency-grid">
                    <div class="latency-item"><div class="label">Min</div><div class="value">{{formatMs .Stats.MinResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">Max</div><div class="value">{{formatMs .Stats.MaxResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">Mean</div><div class="value">{{formatMs .Stats.MeanResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">P50</div><div class="value">{{formatMs .Stats.P50ResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">P90</div><div class="value">{{formatMs .Stats.P90ResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">P95</div><div class="value">{{formatMs .Stats.P95ResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">P99</div><div class="value">{{formatMs .Stats.P99ResponseMs}}</div></div>
                    <div class="latency-item"><div class="label">Latency P95</div><div class="value">{{formatMs .Stats.P95LatencyMs}}</div></div>
                </div>
            </div>

            {{if .Thresholds}}
            <div class="section">
                <h2>Thresholds ({{.Thresholds.Passed}}/{{.Thresholds.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Metric</th>
                            <th>Expected</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Thresholds.Results}}
                        <tr>
                            <td class="code">{{.Threshold}}</td>
                            <td>{{.Metric}} ({{.Aggregate}})</td>
                            <td>{{.Operator}} {{formatFloat .Expected}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .StepNames}}
            <div class="section">
                <h2>Step Breakdown</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Step</th>
                            <th>Count</th>
                            <th>Failures</th>
                            <th>Mean</th>
                            <th>P95</th>
                            <th>P99</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .StepNames}}
                        {{$step := index $.Stats.StepBreakdown .}}
                        <tr>
                            <td><strong>{{.}}</strong></td>
                            <td>{{$step.Count}} ({{formatPercent $step.Count $.Stats.Steps}}%)</td>
                            <td>{{$step.Failures}}</td>
                            <td>{{formatMs $step.MeanMs}}</td>
                            <td>{{formatMs $step.P95Ms}}</td>
                            <td>{{formatMs $step.P99Ms}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Assertions}}
            <div class="section">
                <h2>Assertions</h2>
                <table>
                    <thead><tr><th>Name</th><th>Count</th></tr></thead>
                    <tbody>
                        {{range .Assertions}}
                        <tr><td class="code">{{.Name}}</td><td>{{.Count}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .ResponseCodes}}
            <div class="section">
                <h2>Response Codes</h2>
                <table>
                    <thead><tr><th>Step</th><th>Code</th><th>Count</th></tr></thead>
                    <tbody>
                        {{range .ResponseCodes}}
                        <tr><td>{{.Step}}</td><td><span class="badge">{{.Code}}</span></td><td>{{.Count}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    {{if .History}}
    <script>
        const history = JSON.parse({{.HistoryJSON}});

        if (history && history.length > 0) {
            const startTime = new Date(history[0].time).getTime();
            const timestamps = history.map(d => (new Date(d.time).getTime() - startTime) / 1000);

            new uPlot({
                title: "Iterations",
                width: document.getElementById('iterations-chart').offsetWidth,
                height: 280,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    { label: "Iterations", stroke: "#0f766e", fill: "rgba(15, 118, 110, 0.1)", width: 2 },
                    { label: "Failed", stroke: "#ef4444", width: 2 }
                ],
                axes: [
                    { label: "Time (seconds)" },
                    { label: "Iterations" }
                ]
            }, [timestamps, history.map(d => d.iterations), history.map(d => d.failed)], document.getElementById('iterations-chart'));

            new uPlot({
                title: "Response Time P95",
                width: document.getElementById('p95-chart').offsetWidth,
                height: 280,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    { label: "P95", stroke: "#f59e0b", width: 2 }
                ],
                axes: [
                    { label: "Time (seconds)" },
                    { label: "Response time (ms)" }
                ]
            }, [timestamps, history.map(d => d.p95_ms)], document.getElementById('p95-chart'));
        }
    </script>
    {{end}}
</body>
</html>
`
