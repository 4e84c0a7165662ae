package feeder

import (
	"regexp"
	"sort"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// SubstitutePlaceholders replaces every {{field}} in template with the
// matching value from record. Placeholders whose field is not in the record
// are left unchanged.
func SubstitutePlaceholders(template string, record Record) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		field := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := record[field]; ok {
			return value
		}
		return match
	})
}

// Missing lists, sorted and without duplicates, the placeholder fields in
// template that record does not provide.
func Missing(template string, record Record) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		field := m[1]
		if _, ok := record[field]; ok || seen[field] {
			continue
		}
		seen[field] = true
		missing = append(missing, field)
	}
	sort.Strings(missing)
	return missing
}
