package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// LogListener writes events to a zap logger. Measurements go to debug,
// passing traces to info and failing traces to warn.
type LogListener struct {
	Logger *zap.Logger
}

func (l LogListener) Handle(ev Event) {
	switch ev.Kind {
	case KindMeasurement:
		if ev.Measurement == nil {
			return
		}
		l.Logger.Debug("measurement",
			zap.String("vu", ev.VU),
			zap.String("name", ev.Measurement.Measurement),
			zap.Float64("value", ev.Measurement.Value),
		)
	case KindTrace:
		if ev.Trace == nil {
			return
		}
		fields := []zap.Field{
			zap.String("vu", ev.VU),
			zap.String("label", ev.Trace.Label),
			zap.Int("response_code", ev.Trace.ResponseCode),
			zap.Strings("object_types", ev.Trace.Data.ObjectTypes),
		}
		if !ev.Trace.Data.Failed() {
			l.Logger.Info("trace", fields...)
			return
		}
		for _, a := range ev.Trace.Data.Assertions {
			where := ""
			if len(a.Stack) > 0 {
				where = a.Stack[0]
			}
			l.Logger.Warn("assertion failed", append(fields,
				zap.String("assertion", a.AssertionName),
				zap.String("message", a.Message),
				zap.String("at", where),
			)...)
		}
	}
}

// JSONLines appends one JSON object per event to a file. Every write holds
// an advisory lock on <path>.lock so several processes can share the file.
type JSONLines struct {
	mu   sync.Mutex
	file *os.File
	lock *flock.Flock
	enc  *json.Encoder
	err  error
}

// NewJSONLines opens path for appending, creating parent directories.
func NewJSONLines(path string) (*JSONLines, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("results file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	return &JSONLines{
		file: f,
		lock: flock.New(path + ".lock"),
		enc:  json.NewEncoder(f),
	}, nil
}

func (j *JSONLines) Handle(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return
	}
	if err := j.lock.Lock(); err != nil {
		j.err = fmt.Errorf("lock results file: %w", err)
		return
	}
	if err := j.enc.Encode(ev); err != nil {
		j.err = fmt.Errorf("write results file: %w", err)
	}
	if err := j.lock.Unlock(); err != nil && j.err == nil {
		j.err = fmt.Errorf("unlock results file: %w", err)
	}
}

// Err returns the first write error. Later events are skipped once one
// occurred.
func (j *JSONLines) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	closeErr := j.file.Close()
	_ = j.lock.Close()
	if j.err != nil {
		return j.err
	}
	return closeErr
}

// Multi fans every event out to ls in order.
func Multi(ls ...Listener) Listener {
	return multi(ls)
}

type multi []Listener

func (m multi) Handle(ev Event) {
	for _, l := range m {
		l.Handle(ev)
	}
}

func (m multi) Close() error {
	var errs []error
	for _, l := range m {
		if c, ok := l.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
