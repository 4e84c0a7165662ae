package har

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ParseFile reads and parses a HAR file from disk
func ParseFile(path string) (*HAR, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open HAR file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads and parses a HAR from an io.Reader
func Parse(r io.Reader) (*HAR, error) {
	var doc HAR
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty HAR data")
		}
		return nil, fmt.Errorf("failed to parse HAR JSON: %w", err)
	}

	if doc.Log == nil {
		return nil, fmt.Errorf("invalid HAR: missing log field")
	}
	return &doc, nil
}
