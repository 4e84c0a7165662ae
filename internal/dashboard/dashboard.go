package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/pagerunner/internal/metrics"
)

// RunConfig holds run parameters for display.
type RunConfig struct {
	Script      string        // Path of the test script
	Name        string        // Script name setting
	Users       int           // Number of virtual users
	RampRate    float64       // Users started per second (0 = all at once)
	Granularity string        // Response time measurement mode
	LoopCount   int           // Iterations per user (-1 = unbounded)
	Duration    time.Duration // Run duration (<= 0 = unbounded)
	Restarts    int           // Restarts allowed per user
	ConfigFile  string        // Path to config file if used
}

// Dashboard renders a live terminal UI for browser test metrics.
type Dashboard struct {
	collector    *metrics.Collector
	gauge        *metrics.Gauge
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid          *ui.Grid
	responseSpark *widgets.SparklineGroup
	responsePara  *widgets.Paragraph
	passGauge     *widgets.Gauge
	assertionList *widgets.List
	stepList      *widgets.List
	codeList      *widgets.List
	summaryPara   *widgets.Paragraph
	metricsPara   *widgets.Paragraph
	startTime     time.Time
	testDuration  time.Duration
	runConfig     RunConfig
}

// New creates a new Dashboard. gauge may be nil.
func New(collector *metrics.Collector, gauge *metrics.Gauge, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:    collector,
		gauge:        gauge,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		startTime:    time.Now(),
		runConfig:    cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "P95 (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.responseSpark = widgets.NewSparklineGroup(sparkline)
	d.responseSpark.Title = "Response Time"
	d.responseSpark.BorderStyle.Fg = ui.ColorCyan

	d.responsePara = widgets.NewParagraph()
	d.responsePara.Title = "Response Time Stats"
	d.responsePara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP95: 0ms\nP99: 0ms"
	d.responsePara.BorderStyle.Fg = ui.ColorCyan

	d.passGauge = widgets.NewGauge()
	d.passGauge.Title = "Passed Iterations"
	d.passGauge.Percent = 0
	d.passGauge.BarColor = ui.ColorGreen
	d.passGauge.BorderStyle.Fg = ui.ColorCyan
	d.passGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.assertionList = widgets.NewList()
	d.assertionList.Title = "Assertions"
	d.assertionList.Rows = []string{"No assertions"}
	d.assertionList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.assertionList.BorderStyle.Fg = ui.ColorCyan

	d.stepList = widgets.NewList()
	d.stepList.Title = "Steps"
	d.stepList.Rows = []string{"Awaiting data"}
	d.stepList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.stepList.BorderStyle.Fg = ui.ColorCyan

	d.codeList = widgets.NewList()
	d.codeList.Title = "Response Codes"
	d.codeList.Rows = []string{"No documents"}
	d.codeList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Metrics"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.20,
			ui.NewCol(0.5, d.passGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.65, d.responseSpark),
			ui.NewCol(0.35, d.responsePara),
		),
		ui.NewRow(0.40,
			ui.NewCol(0.5, d.stepList),
			ui.NewCol(0.25, d.assertionList),
			ui.NewCol(0.25, d.codeList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	d.testDuration = time.Since(d.startTime)
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// GetFinalStats returns the final statistics after the dashboard has stopped.
func (d *Dashboard) GetFinalStats() metrics.Stats {
	return d.collector.Stats(d.testDuration)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the run has wound down.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.collector.Snapshot()
			d.update(d.collector.Stats(time.Since(d.startTime)), d.collector.History())
			d.render()
		}
	}
}

// update refreshes all widget data.
func (d *Dashboard) update(stats metrics.Stats, history []metrics.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if series := p95Series(history, 100); len(series) > 0 {
		d.responseSpark.Sparklines[0].Data = series
		d.responseSpark.Title = fmt.Sprintf(
			"Response Time | P95: %.2fms | Min: %.2fms | Max: %.2fms",
			series[len(series)-1],
			stats.MinResponseMs,
			stats.MaxResponseMs,
		)
	}

	passRate := 0.0
	if stats.Iterations > 0 {
		passRate = (float64(stats.Passed) / float64(stats.Iterations)) * 100
	}
	d.passGauge.Percent = int(passRate)
	d.passGauge.Label = fmt.Sprintf("%.1f%% of %d", passRate, stats.Iterations)
	if stats.Failed > 0 {
		d.passGauge.BarColor = ui.ColorYellow
	}

	active := "n/a"
	if d.gauge != nil {
		active = fmt.Sprintf("%d", d.gauge.Value())
	}

	d.summaryPara.Text = fmt.Sprintf(
		"Script: %s\n%s\nElapsed: %s | Iterations: %d | Active: %s",
		d.scriptLabel(),
		d.formatRunParams(),
		stats.Duration.Round(time.Second),
		stats.Iterations,
		active,
	)

	d.metricsPara.Text = fmt.Sprintf(
		"Iterations:        %d\nPassed:            %d\nFailed:            %d\nSteps:             %d\nInterrupted:       %d\nIterations/sec:    %.2f\nMean Latency:      %.2fms\nP95 Latency:       %.2fms",
		stats.Iterations,
		stats.Passed,
		stats.Failed,
		stats.Steps,
		stats.Interrupted,
		stats.IterationsPerSec,
		stats.MeanLatencyMs,
		stats.P95LatencyMs,
	)

	d.responsePara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP95:  %.2fms\nP99:  %.2fms",
		stats.MinResponseMs,
		stats.MeanResponseMs,
		stats.P50ResponseMs,
		stats.P95ResponseMs,
		stats.P99ResponseMs,
	)

	d.assertionList.Rows = formatAssertionRows(stats.Assertions, 10)
	d.codeList.Rows = formatCodeRows(stats.ResponseCodes, 10)
	d.updateStepList(stats)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func (d *Dashboard) updateStepList(stats metrics.Stats) {
	if len(stats.StepBreakdown) == 0 {
		d.stepList.Rows = []string{"[No steps yet](fg:green)"}
		return
	}
	names := stats.StepNames()
	sort.SliceStable(names, func(i, j int) bool {
		return stats.StepBreakdown[names[i]].P95Ms > stats.StepBreakdown[names[j]].P95Ms
	})
	formatted := make([]string, 0, len(names))
	for _, name := range names {
		step := stats.StepBreakdown[name]
		color := "cyan"
		if step.Failures > 0 {
			color = "red"
		}
		formatted = append(formatted, fmt.Sprintf("[%s](fg:%s) | n %d | Mean %6.1fms | P95 %6.1fms | Fail %d",
			name,
			color,
			step.Count,
			step.MeanMs,
			step.P95Ms,
			step.Failures,
		))
	}
	d.stepList.Rows = formatted
}

// p95Series returns at most limit trailing P95 values from history.
func p95Series(history []metrics.Snapshot, limit int) []float64 {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	series := make([]float64, 0, len(history))
	for _, s := range history {
		series = append(series, s.P95Ms)
	}
	return series
}

func formatAssertionRows(assertions map[string]int, limit int) []string {
	if len(assertions) == 0 {
		return []string{"[No assertions](fg:green)"}
	}
	names := make([]string, 0, len(assertions))
	for name := range assertions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if assertions[names[i]] == assertions[names[j]] {
			return names[i] < names[j]
		}
		return assertions[names[i]] > assertions[names[j]]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	rows := make([]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", name, assertions[name]))
	}
	return rows
}

func formatCodeRows(codes map[string]map[string]int, limit int) []string {
	rows := metrics.FlattenStatusBuckets(codes)
	if len(rows) == 0 {
		return []string{"[No documents](fg:green)"}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		color := "green"
		if strings.HasPrefix(row.Code, "4") || strings.HasPrefix(row.Code, "5") {
			color = "red"
		}
		formatted = append(formatted, fmt.Sprintf("%s [%s](fg:%s) %d", row.Step, row.Code, color, row.Count))
	}
	return formatted
}

func (d *Dashboard) scriptLabel() string {
	switch {
	case d.runConfig.Name != "" && d.runConfig.Script != "":
		return fmt.Sprintf("%s (%s)", d.runConfig.Name, d.runConfig.Script)
	case d.runConfig.Name != "":
		return d.runConfig.Name
	default:
		return d.runConfig.Script
	}
}

// formatRunParams formats the run parameters for display.
func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.runConfig.Users > 0 {
		parts = append(parts, fmt.Sprintf("Users: %d", d.runConfig.Users))
	}

	if d.runConfig.RampRate > 0 {
		parts = append(parts, fmt.Sprintf("Ramp: %g/s", d.runConfig.RampRate))
	} else {
		parts = append(parts, "Ramp: all at once")
	}

	if d.runConfig.Granularity != "" {
		parts = append(parts, fmt.Sprintf("Measurement: %s", d.runConfig.Granularity))
	}

	if d.runConfig.LoopCount < 0 {
		parts = append(parts, "Loops: unbounded")
	} else if d.runConfig.LoopCount > 0 {
		parts = append(parts, fmt.Sprintf("Loops: %d", d.runConfig.LoopCount))
	}

	if d.runConfig.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.runConfig.Duration))
	}

	if d.runConfig.Restarts > 0 {
		parts = append(parts, fmt.Sprintf("Restarts: %d", d.runConfig.Restarts))
	}

	if d.runConfig.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.runConfig.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
