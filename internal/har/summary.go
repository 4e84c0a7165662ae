package har

import "sort"

// Summary condenses a HAR document into the figures the CLI prints.
type Summary struct {
	Pages    int
	Entries  int
	Failed   int // entries that never got a response
	Bytes    int
	Statuses map[int]int
	Slowest  []*Entry
}

// Summarize counts the entries of doc by status and keeps the top slowest.
func Summarize(doc *HAR, top int) Summary {
	s := Summary{Statuses: map[int]int{}}
	if doc == nil || doc.Log == nil {
		return s
	}
	s.Pages = len(doc.Log.Pages)
	s.Entries = len(doc.Log.Entries)

	entries := make([]*Entry, 0, len(doc.Log.Entries))
	for _, e := range doc.Log.Entries {
		if e == nil {
			continue
		}
		entries = append(entries, e)
		if e.Response == nil || e.Response.Status == 0 {
			s.Failed++
			continue
		}
		s.Statuses[e.Response.Status]++
		if e.Response.BodySize > 0 {
			s.Bytes += e.Response.BodySize
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time > entries[j].Time })
	if top > len(entries) {
		top = len(entries)
	}
	if top > 0 {
		s.Slowest = entries[:top]
	}
	return s
}
