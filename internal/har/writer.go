package har

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Version is the HAR format version written by this package.
const Version = "1.2"

// New returns an empty document attributed to creator.
func New(creator, creatorVersion string) *HAR {
	return &HAR{Log: &Log{
		Version: Version,
		Creator: &Creator{Name: creator, Version: creatorVersion},
		Entries: []*Entry{},
	}}
}

// Timestamp formats t the way HAR dates are written.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Write encodes doc as indented JSON.
func Write(w io.Writer, doc *HAR) error {
	if doc == nil || doc.Log == nil {
		return fmt.Errorf("invalid HAR: missing log field")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteFile writes doc to path, replacing it atomically.
func WriteFile(path string, doc *HAR) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".har-*")
	if err != nil {
		return err
	}
	if err := Write(tmp, doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
