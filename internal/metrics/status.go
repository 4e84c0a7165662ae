package metrics

import "sort"

// StatusBucket counts the completions of one step whose main document
// answered with one HTTP status.
type StatusBucket struct {
	Step  string
	Code  string
	Count int
}

// FlattenStatusBuckets turns Stats.ResponseCodes into rows for the report
// and dashboard tables, busiest first. Ties order by step name, then code.
func FlattenStatusBuckets(byStep map[string]map[string]int) []StatusBucket {
	var rows []StatusBucket
	for step, codes := range byStep {
		for code, n := range codes {
			rows = append(rows, StatusBucket{Step: step, Code: code, Count: n})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.Count != b.Count:
			return a.Count > b.Count
		case a.Step != b.Step:
			return a.Step < b.Step
		}
		return a.Code < b.Code
	})
	return rows
}
