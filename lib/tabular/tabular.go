// Package tabular holds scraped results as an ordered-column string
// table, the shape every data client in this module returns.
package tabular

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Table struct {
	Columns []string
	Rows    [][]string
}

func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds a row. Short rows are padded with empty cells, long
// rows are truncated to the column count.
func (t *Table) Append(row ...string) {
	for len(row) < len(t.Columns) {
		row = append(row, "")
	}
	t.Rows = append(t.Rows, row[:len(t.Columns)])
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, column := range t.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

// Column returns all values of a column in row order.
func (t *Table) Column(name string) ([]string, error) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("no column named %q", name)
	}
	values := make([]string, len(t.Rows))
	for row := range t.Rows {
		values[row] = t.Rows[row][i]
	}
	return values, nil
}

// Floats parses a column as float64s. Empty and "N/A" cells become
// NaN, anything else that fails to parse is an error.
func (t *Table) Floats(name string) ([]float64, error) {
	values, err := t.Column(name)
	if err != nil {
		return nil, err
	}

	floats := make([]float64, len(values))
	for i, value := range values {
		cleaned := strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
		if cleaned == "" || strings.EqualFold(cleaned, "N/A") {
			floats[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		floats[i] = f
	}
	return floats, nil
}

// Select returns a new table holding only the named columns, in the
// given order.
func (t *Table) Select(columns ...string) (*Table, error) {
	indexes := make([]int, len(columns))
	for i, column := range columns {
		index := t.ColumnIndex(column)
		if index < 0 {
			return nil, fmt.Errorf("no column named %q", column)
		}
		indexes[i] = index
	}

	out := New(columns...)
	for _, row := range t.Rows {
		selected := make([]string, len(indexes))
		for i, index := range indexes {
			selected[i] = row[index]
		}
		out.Append(selected...)
	}
	return out, nil
}

// Rename relabels a column in place, leaving the values untouched.
func (t *Table) Rename(from, to string) error {
	i := t.ColumnIndex(from)
	if i < 0 {
		return fmt.Errorf("no column named %q", from)
	}
	t.Columns[i] = to
	return nil
}

// Render pretty-prints the table.
func (t *Table) Render(out io.Writer) {
	w := table.NewWriter()
	w.SetStyle(table.StyleRounded)
	w.SetOutputMirror(out)

	header := make(table.Row, len(t.Columns))
	for i, column := range t.Columns {
		header[i] = column
	}
	w.AppendHeader(header)

	for _, row := range t.Rows {
		cells := make(table.Row, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		w.AppendRow(cells)
	}

	w.Render()
}

func (t *Table) String() string {
	var buffer strings.Builder
	t.Render(&buffer)
	return buffer.String()
}
