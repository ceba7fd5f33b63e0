package output

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestTable_Render(t *testing.T) {
	tbl := &Table{Headers: []string{"UID", "SIZE"}}
	tbl.AddRow("1", "5")
	tbl.AddRow("1000", "12")

	var buf bytes.Buffer
	if err := tbl.Render(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	got := lines(buf.String())
	if len(got) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(got), buf.String())
	}
	if got[0] != "UID   SIZE" {
		t.Errorf("header = %q", got[0])
	}
	if got[2] != "1000  12" {
		t.Errorf("row = %q", got[2])
	}
}

func TestTable_NoHeaders(t *testing.T) {
	tbl := Table{Headers: []string{"A"}, Rows: [][]string{{"x"}}}

	var buf bytes.Buffer
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, tbl); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "x" {
		t.Errorf("output = %q, want x", buf.String())
	}
}

type supportResult struct{ bits uint32 }

func (s supportResult) Table() *Table {
	t := &Table{Headers: []string{"BITS"}}
	t.AddRow("0x3")
	return t
}

func TestTableFormatter_Tabular(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, supportResult{bits: 3}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(buf.String(), "0x3") {
		t.Errorf("output = %q", buf.String())
	}
}

type limits struct {
	MaxAssetSize uint32 `json:"max_asset_size"`
	MaxAssets    int
}

type summary struct {
	Name    string    `json:"name"`
	Ready   bool      `json:"ready"`
	Limits  limits    `json:"limits"`
	Started time.Time `json:"started"`
	Secret  string    `table:"-"`
	Path    string    `json:"path" table:"wide"`
	hidden  int
}

func TestTableFormatter_StructFlattened(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := &summary{Name: "ps", Ready: true, Limits: limits{MaxAssetSize: 4096, MaxAssets: 10}, Started: started, Secret: "x", hidden: 1}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"FIELD", "name", "ps", "ready", "true", "limits.max_asset_size", "4096", "limits.max_assets", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"Secret", "secret", "path", "hidden"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("output should not contain %q:\n%s", unwanted, out)
		}
	}
}

func TestTableFormatter_WideColumns(t *testing.T) {
	data := []summary{{Name: "ps", Path: "/var/lib/psastore/ps"}, {Name: "its"}}

	var narrow, wide bytes.Buffer
	if err := (&TableFormatter{}).Format(&narrow, data); err != nil {
		t.Fatal(err)
	}
	if err := (&TableFormatter{Wide: true}).Format(&wide, data); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(narrow.String(), "PATH") {
		t.Errorf("narrow output has wide column:\n%s", narrow.String())
	}
	if !strings.Contains(wide.String(), "PATH") || !strings.Contains(wide.String(), "/var/lib/psastore/ps") {
		t.Errorf("wide output missing PATH column:\n%s", wide.String())
	}
	if got := len(lines(narrow.String())); got != 3 {
		t.Errorf("got %d lines, want 3", got)
	}
}

func TestTableFormatter_MapSorted(t *testing.T) {
	data := map[string]any{
		"services": map[string]any{"its": true, "ps": false},
		"status":   "not_ready",
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}

	got := lines(buf.String())
	want := []string{"KEY", "services.its", "services.ps", "status"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want), buf.String())
	}
	for i, prefix := range want {
		if !strings.HasPrefix(got[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, got[i], prefix)
		}
	}
}

func TestTableFormatter_FallbackToJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("output = %q, want 42", buf.String())
	}
}

func TestTableFormatter_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("output = %q, want empty", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	var nilPtr *int
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"empty string", "", "-"},
		{"uint", uint32(7), "7"},
		{"whole float", float64(1024), "1024"},
		{"float", 1.5, "1.50"},
		{"bytes", []byte("hello"), "<5 bytes>"},
		{"slice", []string{"a"}, `["a"]`},
		{"empty slice", []string{}, "-"},
		{"map", map[string]int{"a": 1}, "{1 keys}"},
		{"duration", 2 * time.Second, "2s"},
		{"nil pointer", nilPtr, "-"},
		{"zero time", time.Time{}, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(reflect.ValueOf(tt.in)); got != tt.want {
				t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"MaxAssets": "max_assets",
		"UID":       "u_i_d",
		"size":      "size",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
