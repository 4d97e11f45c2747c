package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Table renders rows under a bold header, columns padded to their widest cell
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool

	// cellColor, when set, colors a cell of the given column
	cellColor func(column int, cell string) *color.Color
}

// TableOptions configures table behavior
type TableOptions struct {
	NoColor bool

	// CellColor picks the color of a cell; nil leaves cells uncolored
	CellColor func(column int, cell string) *color.Color
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	t := &Table{writer: w, headers: headers}
	if opts != nil {
		t.noColor = opts.NoColor
		t.cellColor = opts.CellColor
	}
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table to the writer
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := t.color(color.New(color.Bold, color.FgCyan))
	for i, header := range t.headers {
		bold.Fprint(t.writer, t.pad(header, widths, i))
	}
	fmt.Fprintln(t.writer)

	gray := t.color(color.New(color.FgHiBlack))
	for i, width := range widths {
		sep := strings.Repeat("─", width)
		if i < len(widths)-1 {
			sep += "  "
		}
		gray.Fprint(t.writer, sep)
	}
	fmt.Fprintln(t.writer)

	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			text := t.pad(cell, widths, i)
			if t.cellColor != nil {
				if c := t.cellColor(i, cell); c != nil {
					t.color(c).Fprint(t.writer, text)
					continue
				}
			}
			fmt.Fprint(t.writer, text)
		}
		fmt.Fprintln(t.writer)
	}
}

// pad pads every cell but the last one of a row
func (t *Table) pad(cell string, widths []int, i int) string {
	if i == len(widths)-1 {
		return cell
	}
	return padRight(cell, widths[i]) + "  "
}

func (t *Table) color(c *color.Color) *color.Color {
	if t.noColor {
		c.DisableColor()
	}
	return c
}

// padRight pads a string with spaces on the right to reach the target width
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// KeyValueTable renders aligned "key: value" lines
type KeyValueTable struct {
	writer  io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render renders the key-value table
func (t *KeyValueTable) Render() {
	width := 0
	for _, key := range t.keys {
		if len(key) > width {
			width = len(key)
		}
	}

	cyan := color.New(color.FgCyan)
	if t.noColor {
		cyan.DisableColor()
	}
	for i, key := range t.keys {
		cyan.Fprint(t.writer, padRight(key+":", width+1))
		fmt.Fprintf(t.writer, " %s\n", t.values[i])
	}
}

// MethodColor colors HTTP methods the way route listings show them
func MethodColor(method string) *color.Color {
	switch method {
	case "GET":
		return color.New(color.FgGreen)
	case "POST":
		return color.New(color.FgYellow)
	case "PUT", "PATCH":
		return color.New(color.FgBlue)
	case "DELETE":
		return color.New(color.FgRed)
	}
	return nil
}
