package engine

import (
	"path"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/pagerunner/internal/browser"
)

// watchConsole forwards page console messages whose type matches filter to
// the logger. An empty filter forwards nothing.
func watchConsole(src browser.EventSource, filter []string, logger *zap.Logger) (stop func()) {
	if len(filter) == 0 {
		return func() {}
	}
	patterns := make([]string, len(filter))
	for i, f := range filter {
		patterns[i] = normalizeConsoleType(f)
	}
	return src.Subscribe(func(ev browser.Event) {
		if ev.Console == nil {
			return
		}
		kind := normalizeConsoleType(ev.Console.Type)
		if !consoleMatches(patterns, kind) {
			return
		}
		if ce := logger.Check(consoleLevel(kind), "console"); ce != nil {
			ce.Write(
				zap.String("type", ev.Console.Type),
				zap.String("text", ev.Console.Text),
				zap.String("url", ev.URL),
			)
		}
	}, browser.EventConsole)
}

func normalizeConsoleType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "warning" {
		return "warn"
	}
	return t
}

// consoleMatches accepts exact types, "all" and shell globs such as "err*".
func consoleMatches(patterns []string, kind string) bool {
	for _, p := range patterns {
		if p == "all" || p == kind {
			return true
		}
		if ok, err := path.Match(p, kind); err == nil && ok {
			return true
		}
	}
	return false
}

func consoleLevel(kind string) zapcore.Level {
	switch kind {
	case "error", "assert":
		return zapcore.ErrorLevel
	case "warn":
		return zapcore.WarnLevel
	case "debug", "trace", "verbose":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
