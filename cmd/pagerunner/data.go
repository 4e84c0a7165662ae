package main

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/torosent/pagerunner/internal/config"
	"github.com/torosent/pagerunner/internal/feeder"
	"github.com/torosent/pagerunner/internal/runner"
	"github.com/torosent/pagerunner/internal/script"
)

// openFeeder returns nil when no data file is configured.
func openFeeder(cfg *config.Config) (feeder.Feeder, error) {
	if cfg.DataFile == "" {
		return nil, nil
	}
	var opts []feeder.Option
	if cfg.DataUnique {
		opts = append(opts, feeder.Unique())
	}
	return feeder.Open(cfg.DataFile, opts...)
}

// compileWith compiles path after filling its placeholders from rec. A nil
// record compiles the file as written.
func compileWith(c script.Compiler, path string, rec feeder.Record) (*script.Script, error) {
	if rec == nil {
		return script.CompileFile(c, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &script.CompileError{Path: path, Err: err}
	}
	return c.Compile(path, []byte(feeder.SubstitutePlaceholders(string(src), rec)))
}

// sessionCompiler gives every session its own compiled script and, with a
// feeder, its own data record.
func sessionCompiler(c script.Compiler, path string, feed feeder.Feeder) runner.Compiler {
	return func() (*script.Script, error) {
		if feed == nil {
			return script.CompileFile(c, path)
		}
		rec, err := feed.Next(context.Background())
		if err != nil {
			return nil, err
		}
		return compileWith(c, path, rec)
	}
}

// shouldRestart keeps sessions that ran out of unique data from retrying.
func shouldRestart(err error) bool {
	if errors.Is(err, feeder.ErrExhausted) {
		return false
	}
	return runner.Restartable(err)
}

func warnMissingFields(logger *zap.Logger, path string, sample feeder.Record) {
	src, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if missing := feeder.Missing(string(src), sample); len(missing) > 0 {
		logger.Warn("script placeholders have no data column", zap.String("script", path), zap.Strings("fields", missing))
	}
}
