package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// Tabular is implemented by results that provide their own table layout.
type Tabular interface {
	Table() *Table
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table, headers first.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions writes the table, optionally without the header row.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// TableFormatter formats data as an aligned text table.
//
// Structs and maps become two-column FIELD/VALUE tables with nested structs
// flattened into dotted names. Slices of structs get one column per field;
// fields tagged `table:"wide"` only appear when Wide is set and fields tagged
// `table:"-"` never do. Anything else falls back to JSON.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format implements Formatter.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}

	switch v := data.(type) {
	case *Table:
		return v.RenderWithOptions(w, f.NoHeaders)
	case Table:
		return v.RenderWithOptions(w, f.NoHeaders)
	case Tabular:
		return v.Table().RenderWithOptions(w, f.NoHeaders)
	}

	t, ok := f.build(reflect.ValueOf(data))
	if !ok {
		return (&JSONFormatter{}).Format(w, data)
	}
	return t.RenderWithOptions(w, f.NoHeaders)
}

func (f *TableFormatter) build(v reflect.Value) (*Table, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return nil, false
	}

	switch v.Kind() {
	case reflect.Struct:
		if isScalarStruct(v.Type()) {
			return nil, false
		}
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		f.flatten(t, "", v)
		return t, true
	case reflect.Map:
		t := &Table{Headers: []string{"KEY", "VALUE"}}
		f.flatten(t, "", v)
		return t, true
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		return f.columns(v), true
	default:
		return nil, false
	}
}

// flatten appends one row per leaf value of v.
func (f *TableFormatter) flatten(t *Table, prefix string, v reflect.Value) {
	v = indirect(v)
	switch {
	case !v.IsValid():
		t.AddRow(prefix, "-")
	case v.Kind() == reflect.Struct && !isScalarStruct(v.Type()):
		for _, field := range f.fields(v.Type()) {
			f.flatten(t, join(prefix, field.name), v.Field(field.index))
		}
	case v.Kind() == reflect.Map && v.Len() > 0:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			f.flatten(t, join(prefix, fmt.Sprint(k.Interface())), v.MapIndex(k))
		}
	default:
		t.AddRow(prefix, FormatValue(v))
	}
}

func (f *TableFormatter) columns(v reflect.Value) *Table {
	elem := v.Type().Elem()
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct || isScalarStruct(elem) {
		t := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(FormatValue(v.Index(i)))
		}
		return t
	}

	fields := f.fields(elem)
	t := &Table{}
	for _, field := range fields {
		t.Headers = append(t.Headers, strings.ToUpper(field.name))
	}
	for i := 0; i < v.Len(); i++ {
		row := indirect(v.Index(i))
		cells := make([]string, len(fields))
		for j, field := range fields {
			if row.IsValid() {
				cells[j] = FormatValue(row.Field(field.index))
			}
		}
		t.AddRow(cells...)
	}
	return t
}

type column struct {
	name  string
	index int
}

func (f *TableFormatter) fields(t reflect.Type) []column {
	var out []column
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("table")
		if tag == "-" || (tag == "wide" && !f.Wide) {
			continue
		}
		out = append(out, column{name: fieldName(sf), index: i})
	}
	return out
}

// fieldName prefers the json tag, then the snake_case field name.
func fieldName(sf reflect.StructField) string {
	if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag != "" && tag != "-" {
		return tag
	}
	return toSnakeCase(sf.Name)
}

// FormatValue renders a single value for a table cell.
func FormatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}

	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Format(time.RFC3339)
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}

	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return "-"
		}
		return v.String()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%.2f", f)
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("<%d bytes>", v.Len())
		}
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("[%d items]", v.Len())
		}
		return string(b)
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	default:
		return fmt.Sprint(v.Interface())
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// isScalarStruct reports struct types that print as a single value.
func isScalarStruct(t reflect.Type) bool {
	return t == reflect.TypeOf(time.Time{})
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// toSnakeCase converts CamelCase to snake_case.
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
