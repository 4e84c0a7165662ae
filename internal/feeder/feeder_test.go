package feeder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestCSVFeederLoadAndRoundRobin(t *testing.T) {
	csvPath := writeFile(t, "users.csv", `user_id,email,name
1,alice@example.com,Alice
2,bob@example.com,Bob
3,charlie@example.com,Charlie`)

	feeder, err := NewCSVFeeder(csvPath)
	if err != nil {
		t.Fatalf("NewCSVFeeder() error = %v", err)
	}
	defer feeder.Close()

	if feeder.Len() != 3 {
		t.Errorf("Len() = %d, want 3", feeder.Len())
	}

	ctx := context.Background()
	for i, want := range []string{"Alice", "Bob", "Charlie", "Alice"} {
		rec, err := feeder.Next(ctx)
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i+1, err)
		}
		if rec["name"] != want {
			t.Errorf("Next() #%d = %v, want %s", i+1, rec, want)
		}
	}
}

func TestJSONFeederLoadAndRoundRobin(t *testing.T) {
	jsonPath := writeFile(t, "products.json", `[
		{"product_id": "p1", "name": "Widget", "price": 19.99, "stock": null},
		{"product_id": "p2", "name": "Gadget", "price": "29.99", "featured": true}
	]`)

	feeder, err := NewJSONFeeder(jsonPath)
	if err != nil {
		t.Fatalf("NewJSONFeeder() error = %v", err)
	}
	defer feeder.Close()

	if feeder.Len() != 2 {
		t.Errorf("Len() = %d, want 2", feeder.Len())
	}

	ctx := context.Background()
	rec1, err := feeder.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec1["product_id"] != "p1" || rec1["price"] != "19.99" || rec1["stock"] != "" {
		t.Errorf("First record = %v, want Widget data", rec1)
	}

	rec2, err := feeder.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec2["featured"] != "true" {
		t.Errorf("Second record = %v, want Gadget data", rec2)
	}

	rec3, err := feeder.Next(ctx)
	if err != nil {
		t.Fatalf("Next() after wrap error = %v", err)
	}
	if rec3["product_id"] != "p1" {
		t.Errorf("Third record (looped) = %v, want Widget data", rec3)
	}
}

func TestUniqueFeederExhausts(t *testing.T) {
	csvPath := writeFile(t, "logins.csv", "user,password\nalice,a1\nbob,b2\n")

	feeder, err := Open(csvPath, Unique())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := feeder.Next(ctx); err != nil {
			t.Fatalf("Next() #%d error = %v", i+1, err)
		}
	}
	if _, err := feeder.Next(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("Next() after last record error = %v, want ErrExhausted", err)
	}
}

func TestRecordsAreCopies(t *testing.T) {
	feeder, err := NewCSVFeeder(writeFile(t, "one.csv", "id\n1\n"))
	if err != nil {
		t.Fatalf("NewCSVFeeder() error = %v", err)
	}
	ctx := context.Background()
	rec, _ := feeder.Next(ctx)
	rec["id"] = "mutated"
	if peek := feeder.Peek(); peek["id"] != "1" {
		t.Errorf("Peek() = %v, want first record", peek)
	}

	again, _ := feeder.Next(ctx)
	if again["id"] != "1" {
		t.Errorf("record mutation leaked into dataset: %v", again)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "csv", file: "a.csv", content: "id\n1\n"},
		{name: "upper-case json", file: "a.JSON", content: `[{"id": 1}]`},
		{name: "yaml", file: "a.yaml", content: "- id: 1\n", wantErr: "unsupported extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Open(writeFile(t, tt.file, tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Open() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if f.Len() != 1 {
				t.Errorf("Len() = %d, want 1", f.Len())
			}
		})
	}
}

func TestFeederConcurrentAccess(t *testing.T) {
	rows := []string{"id,value"}
	for i := 1; i <= 100; i++ {
		rows = append(rows, fmt.Sprintf("%d,value-%d", i, i))
	}
	feeder, err := NewCSVFeeder(writeFile(t, "concurrent.csv", strings.Join(rows, "\n")))
	if err != nil {
		t.Fatalf("NewCSVFeeder() error = %v", err)
	}
	defer feeder.Close()

	ctx := context.Background()
	const numGoroutines = 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	recordsChan := make(chan Record, numGoroutines)
	errorsChan := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			rec, err := feeder.Next(ctx)
			if err != nil {
				errorsChan <- err
				return
			}
			recordsChan <- rec
		}()
	}

	wg.Wait()
	close(recordsChan)
	close(errorsChan)

	for err := range errorsChan {
		t.Errorf("Next() error = %v", err)
	}

	seen := make(map[string]bool)
	count := 0
	for rec := range recordsChan {
		count++
		if seen[rec["id"]] {
			t.Errorf("Duplicate record ID: %s", rec["id"])
		}
		seen[rec["id"]] = true
	}
	if count != numGoroutines {
		t.Errorf("Got %d records, want %d", count, numGoroutines)
	}
}

func TestFeederLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		load func(t *testing.T) error
	}{
		{"missing csv", func(t *testing.T) error {
			_, err := NewCSVFeeder("/nonexistent/path/file.csv")
			return err
		}},
		{"empty csv", func(t *testing.T) error {
			_, err := NewCSVFeeder(writeFile(t, "empty.csv", ""))
			return err
		}},
		{"header only", func(t *testing.T) error {
			_, err := NewCSVFeeder(writeFile(t, "header.csv", "id,name\n"))
			return err
		}},
		{"blank header", func(t *testing.T) error {
			_, err := NewCSVFeeder(writeFile(t, "blank.csv", "id, \n1,2\n"))
			return err
		}},
		{"invalid json", func(t *testing.T) error {
			_, err := NewJSONFeeder(writeFile(t, "invalid.json", `{invalid json`))
			return err
		}},
		{"empty json array", func(t *testing.T) error {
			_, err := NewJSONFeeder(writeFile(t, "empty.json", `[]`))
			return err
		}},
		{"empty json object", func(t *testing.T) error {
			_, err := NewJSONFeeder(writeFile(t, "hole.json", `[{"id": 1}, {}]`))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.load(t); err == nil {
				t.Fatal("expected load error, got nil")
			}
		})
	}
}

func TestTemplateSubstitution(t *testing.T) {
	tests := []struct {
		name     string
		template string
		record   Record
		want     string
	}{
		{
			name:     "single placeholder",
			template: "- visit: https://shop.test/users/{{user_id}}",
			record:   Record{"user_id": "123"},
			want:     "- visit: https://shop.test/users/123",
		},
		{
			name:     "multiple placeholders",
			template: "{{base_url}}/{{resource}}/{{id}}",
			record:   Record{"base_url": "https://shop.test", "resource": "products", "id": "p456"},
			want:     "https://shop.test/products/p456",
		},
		{
			name:     "inner whitespace",
			template: `- type: {selector: "#email", text: "{{ email }}"}`,
			record:   Record{"email": "test@example.com"},
			want:     `- type: {selector: "#email", text: "test@example.com"}`,
		},
		{
			name:     "missing placeholder field",
			template: "https://shop.test/users/{{missing_field}}",
			record:   Record{"user_id": "123"},
			want:     "https://shop.test/users/{{missing_field}}",
		},
		{
			name:     "value containing braces is not expanded again",
			template: "{{a}} {{b}}",
			record:   Record{"a": "{{b}}", "b": "x"},
			want:     "{{b}} x",
		},
		{
			name:     "no placeholders",
			template: "https://shop.test/static",
			record:   Record{"user_id": "123"},
			want:     "https://shop.test/static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubstitutePlaceholders(tt.template, tt.record)
			if got != tt.want {
				t.Errorf("SubstitutePlaceholders() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMissing(t *testing.T) {
	got := Missing("{{user}} {{ zip }} {{pass}} {{zip}} {{user}}", Record{"user": "a"})
	if want := []string{"pass", "zip"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}
	if got := Missing("no placeholders", nil); len(got) != 0 {
		t.Errorf("Missing() = %v, want none", got)
	}
}

func TestFeederContextCancellation(t *testing.T) {
	feeder, err := NewCSVFeeder(writeFile(t, "data.csv", "id,value\n1,test"))
	if err != nil {
		t.Fatalf("NewCSVFeeder() error = %v", err)
	}
	defer feeder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = feeder.Next(ctx)
	if err != context.Canceled {
		t.Errorf("Next() with cancelled context error = %v, want context.Canceled", err)
	}
}
