package feeder

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVFeeder serves records read from a CSV file. The first row is the
// header naming each field.
type CSVFeeder struct {
	dataset
}

// NewCSVFeeder loads every row of path into memory.
func NewCSVFeeder(path string, opts ...Option) (*CSVFeeder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least one header row and one data row")
	}

	header := rows[0]
	for i, field := range header {
		header[i] = strings.TrimSpace(field)
		if header[i] == "" {
			return nil, fmt.Errorf("CSV header column %d is empty", i+1)
		}
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(header))
		}

		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}

	f := &CSVFeeder{}
	f.init(records, opts)
	return f, nil
}
