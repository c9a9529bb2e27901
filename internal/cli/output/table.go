package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Tabular is implemented by results with a table layout.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// TableFormatter formats Tabular values as aligned columns.
type TableFormatter struct {
	NoHeaders bool
}

func (f TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	t, ok := data.(Tabular)
	if !ok {
		return JSONFormatter{}.Format(w, data)
	}
	table := &Table{Rows: t.Rows()}
	if !f.NoHeaders {
		table.Headers = t.Headers()
	}
	return table.Render(w)
}

// Table is a simple column-aligned table.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row; values are formatted with %v.
func (t *Table) AddRow(cells ...any) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = fmt.Sprint(c)
	}
	t.Rows = append(t.Rows, row)
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Headers) > 0 {
		upper := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			upper[i] = strings.ToUpper(h)
		}
		fmt.Fprintln(tw, strings.Join(upper, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
