package har

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleDoc() *HAR {
	doc := New("pagerunner", "dev")
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc.Log.Pages = append(doc.Log.Pages, &Page{
		ID:              "page_1",
		StartedDateTime: Timestamp(started),
		Title:           "https://example.com/",
		PageTimings:     &PageTimings{OnContentLoad: 120, OnLoad: 340},
	})
	doc.Log.Entries = append(doc.Log.Entries, &Entry{
		PageRef:         "page_1",
		StartedDateTime: Timestamp(started),
		Time:            88.5,
		Request:         &Request{Method: "GET", URL: "https://example.com/", HTTPVersion: "HTTP/2", Headers: []*Header{}, QueryString: []*QueryString{}, Cookies: []*Cookie{}, HeadersSize: -1, BodySize: 0},
		Response:        &Response{Status: 200, StatusText: "OK", HTTPVersion: "HTTP/2", Headers: []*Header{{Name: "content-type", Value: "text/html"}}, Cookies: []*Cookie{}, Content: &Content{Size: 1256, MimeType: "text/html"}, HeadersSize: -1, BodySize: 1256},
		Cache:           &Cache{},
		Timings:         &Timings{Blocked: -1, DNS: -1, Connect: -1, Send: 0, Wait: 60, Receive: 28.5, SSL: -1},
	})
	return doc
}

func TestWriteFileThenParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run.har")
	if err := WriteFile(path, sampleDoc()); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if doc.Log.Version != Version || doc.Log.Creator.Name != "pagerunner" {
		t.Errorf("log header = %+v / %+v", doc.Log.Version, doc.Log.Creator)
	}
	if len(doc.Log.Entries) != 1 || doc.Log.Entries[0].Response.Status != 200 {
		t.Fatalf("entries = %+v", doc.Log.Entries)
	}
	if doc.Log.Entries[0].PageRef != doc.Log.Pages[0].ID {
		t.Errorf("pageref %q does not point at page %q", doc.Log.Entries[0].PageRef, doc.Log.Pages[0].ID)
	}
}

func TestWriteEmitsRequiredArrays(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, New("pagerunner", "dev")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"entries": []`) {
		t.Errorf("empty archive must still carry an entries array:\n%s", buf.String())
	}
}

func TestWriteRejectsMissingLog(t *testing.T) {
	if err := Write(&bytes.Buffer{}, &HAR{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty HAR data"},
		{"invalid json", "{not json", "failed to parse"},
		{"missing log", `{"other": 1}`, "missing log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want %q", err, tt.want)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestParseReaderError(t *testing.T) {
	_, err := Parse(failingReader{})
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestParseFileNotFound(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.har")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSummarize(t *testing.T) {
	doc := sampleDoc()
	slow := *doc.Log.Entries[0]
	slow.Time = 900
	slow.Request = &Request{Method: "POST", URL: "https://example.com/cart"}
	slow.Response = &Response{Status: 503, BodySize: 44}
	failed := slow
	failed.Time = 15
	failed.Response = &Response{}
	doc.Log.Entries = append(doc.Log.Entries, &slow, &failed)

	s := Summarize(doc, 2)
	if s.Pages != 1 || s.Entries != 3 || s.Failed != 1 {
		t.Fatalf("Summarize() = %+v", s)
	}
	if s.Statuses[200] != 1 || s.Statuses[503] != 1 {
		t.Errorf("statuses = %v", s.Statuses)
	}
	if s.Bytes != 1256+44 {
		t.Errorf("bytes = %d", s.Bytes)
	}
	if len(s.Slowest) != 2 || s.Slowest[0].Request.URL != "https://example.com/cart" || s.Slowest[1].Time != 88.5 {
		t.Errorf("slowest = %+v", s.Slowest)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(&HAR{}, 5)
	if s.Entries != 0 || len(s.Slowest) != 0 || s.Statuses == nil {
		t.Fatalf("Summarize() = %+v", s)
	}
	if got := Summarize(New("x", "1"), 0); got.Slowest != nil {
		t.Errorf("slowest = %v, want none", got.Slowest)
	}
}
