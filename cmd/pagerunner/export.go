package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/torosent/pagerunner/internal/config"
	"github.com/torosent/pagerunner/internal/har"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/output"
	"github.com/torosent/pagerunner/internal/runner"
	"github.com/torosent/pagerunner/internal/script"
	"github.com/torosent/pagerunner/internal/threshold"
)

// writeHAR merges the traffic of every session into one HAR document. Page
// IDs are prefixed per session so page references stay unique.
func writeHAR(path string, sessions []runner.Session) error {
	doc := har.New("pagerunner", version)
	for i, s := range sessions {
		if s.Recorder == nil {
			continue
		}
		s.Recorder.AppendTo(doc, fmt.Sprintf("s%d-", i+1))
	}
	if err := har.WriteFile(path, doc); err != nil {
		return fmt.Errorf("write HAR: %w", err)
	}
	return nil
}

func writeHTMLReport(cfg *config.Config, settings config.Settings, stats metrics.Stats, history []metrics.Snapshot, results []threshold.Result) error {
	if err := os.MkdirAll(filepath.Dir(cfg.HTMLOutput), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(cfg.HTMLOutput)
	if err != nil {
		return fmt.Errorf("create HTML report: %w", err)
	}
	meta := output.ReportMetadata{
		Name:        settings.Name,
		Description: settings.Description,
		Script:      cfg.ScriptPath,
		Users:       cfg.Users,
		Granularity: string(settings.ResponseTimeMeasurement),
	}
	if err := output.GenerateHTMLReport(f, stats, history, results, meta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printScript(w io.Writer, s *script.Script, settings config.Settings) {
	name := settings.Name
	if name == "" {
		name = s.Path
	}
	fmt.Fprintf(w, "%s: %d steps\n", name, len(s.Steps))
	loops := fmt.Sprintf("%d", settings.LoopCount)
	if settings.LoopsUnbounded() {
		loops = "unbounded"
	}
	duration := settings.Duration.String()
	if settings.DurationUnbounded() {
		duration = "unbounded"
	}
	fmt.Fprintf(w, "  loops=%s duration=%s measurement=%s device=%q\n",
		loops, duration, settings.ResponseTimeMeasurement, settings.Device)
	for i, step := range s.Steps {
		line := fmt.Sprintf("  %d. %s", i+1, step.Name)
		if len(step.Conditions) > 0 {
			line += fmt.Sprintf(" (%d conditions)", len(step.Conditions))
		}
		if step.Skip {
			line += " [skip]"
		}
		fmt.Fprintln(w, line)
	}
}

func printHARSummary(w io.Writer, path string, s har.Summary) {
	fmt.Fprintf(w, "%s: %d pages, %d requests, %d failed, %d bytes\n", path, s.Pages, s.Entries, s.Failed, s.Bytes)
	codes := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  status %d: %d\n", code, s.Statuses[code])
	}
	if len(s.Slowest) == 0 {
		return
	}
	fmt.Fprintln(w, "Slowest requests:")
	for _, e := range s.Slowest {
		method, url := "", ""
		if e.Request != nil {
			method, url = e.Request.Method, e.Request.URL
		}
		fmt.Fprintf(w, "  %9.1fms %s %s\n", e.Time, method, url)
	}
}

// snapshotEvery records collector history for the HTML charts until the
// returned function is called.
func snapshotEvery(collector *metrics.Collector, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				collector.Snapshot()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
