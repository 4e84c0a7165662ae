// Package feeder supplies data rows to browser sessions. Each session takes
// one record and the record's fields replace {{field}} placeholders in the
// script source before it is compiled.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// Feeder provides per-session data from a dataset with deterministic
// round-robin selection. Implementations must be safe for concurrent use.
type Feeder interface {
	// Next returns the next record from the dataset or an error if exhausted.
	Next(ctx context.Context) (Record, error)

	// Close releases any resources held by the feeder.
	Close() error

	// Len returns the total number of records in the dataset.
	Len() int

	// Peek returns the first record without consuming it.
	Peek() Record
}

// ErrExhausted is returned when every record has been handed out and the
// feeder was opened with Unique.
var ErrExhausted = errors.New("feeder exhausted: no more records available")

// Option configures a feeder.
type Option func(*dataset)

// Unique makes a feeder hand out each record once instead of wrapping back
// to the first one.
func Unique() Option {
	return func(d *dataset) { d.unique = true }
}

// Open loads path as CSV or JSON depending on its extension.
func Open(path string, opts ...Option) (Feeder, error) {
	var (
		f   Feeder
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err = NewCSVFeeder(path, opts...)
	case ".json":
		f, err = NewJSONFeeder(path, opts...)
	default:
		return nil, fmt.Errorf("data file %s: unsupported extension %q (want .csv or .json)", path, ext)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

type dataset struct {
	mu      sync.Mutex
	records []Record
	index   int
	unique  bool
}

func (d *dataset) init(records []Record, opts []Option) {
	d.records = records
	for _, opt := range opts {
		opt(d)
	}
}

// Next returns the next record in round-robin order.
func (d *dataset) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index >= len(d.records) {
		if d.unique {
			return nil, ErrExhausted
		}
		d.index = 0
	}

	record := d.records[d.index]
	d.index++
	return record.clone(), nil
}

// Close is a no-op; records are held in memory.
func (d *dataset) Close() error {
	return nil
}

// Len returns the total number of records in the dataset.
func (d *dataset) Len() int {
	return len(d.records)
}

// Peek returns a copy of the first record.
func (d *dataset) Peek() Record {
	return d.records[0].clone()
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
