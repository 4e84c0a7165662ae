package feeder

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONFeeder serves records read from a JSON array of objects. Values are
// converted to their string form.
type JSONFeeder struct {
	dataset
}

// NewJSONFeeder loads the array in path into memory.
func NewJSONFeeder(path string, opts ...Option) (*JSONFeeder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	defer file.Close()

	var rawRecords []map[string]interface{}
	if err := json.NewDecoder(file).Decode(&rawRecords); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if len(rawRecords) == 0 {
		return nil, fmt.Errorf("JSON file contains empty array")
	}

	records := make([]Record, 0, len(rawRecords))
	for i, rawRecord := range rawRecords {
		if len(rawRecord) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		record := make(Record, len(rawRecord))
		for key, value := range rawRecord {
			switch v := value.(type) {
			case nil:
				record[key] = ""
			case string:
				record[key] = v
			default:
				record[key] = fmt.Sprintf("%v", v)
			}
		}
		records = append(records, record)
	}

	f := &JSONFeeder{}
	f.init(records, opts)
	return f, nil
}
