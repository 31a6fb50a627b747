package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// ResultsTable renders result rows keyed by column name.
type ResultsTable struct {
	display *DisplayContext
	columns []string
	rows    [][]string
	numeric []bool
}

// NewResultsTable creates a table with the given column order. Columns
// missing from the order are appended alphabetically as rows arrive.
func NewResultsTable(display *DisplayContext, columns []string) *ResultsTable {
	t := &ResultsTable{
		display: display,
		columns: append([]string(nil), columns...),
		numeric: make([]bool, len(columns)),
	}
	for i := range t.numeric {
		t.numeric[i] = true
	}
	return t
}

// AddRows formats and appends rows.
func (t *ResultsTable) AddRows(rows []map[string]any) {
	known := make(map[string]bool, len(t.columns))
	for _, c := range t.columns {
		known[c] = true
	}
	var extra []string
	for _, r := range rows {
		for k := range r {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	t.columns = append(t.columns, extra...)
	for len(t.numeric) < len(t.columns) {
		t.numeric = append(t.numeric, true)
	}

	seen := make([]bool, len(t.columns))
	for _, r := range rows {
		cells := make([]string, len(t.columns))
		for i, c := range t.columns {
			v := r[c]
			cells[i] = FormatValue(v)
			if v == nil {
				continue
			}
			seen[i] = true
			if !isNumber(v) {
				t.numeric[i] = false
			}
		}
		t.rows = append(t.rows, cells)
	}
	for i := range t.numeric {
		if !seen[i] {
			t.numeric[i] = false
		}
	}
}

// Len returns the number of rows added.
func (t *ResultsTable) Len() int { return len(t.rows) }

// Render generates the table output as a string.
func (t *ResultsTable) Render() string {
	if len(t.rows) == 0 {
		return ""
	}
	maxCell := t.display.TermWidth / max(len(t.columns), 1)
	if maxCell < 8 {
		maxCell = 8
	}

	rows := make([][]string, len(t.rows))
	for i, r := range t.rows {
		rows[i] = make([]string, len(r))
		for j, cell := range r {
			rows[i][j] = TruncateWithEllipsis(cell, maxCell)
		}
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(true).
		BorderStyle(Muted).
		Headers(t.columns...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle()
			if col < len(t.columns)-1 {
				style = style.PaddingRight(2)
			}
			if row == table.HeaderRow {
				return style.Inherit(Bold)
			}
			if col < len(t.numeric) && t.numeric[col] {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		Rows(rows...)
	return tbl.Render()
}

// FormatValue renders one cell. Integers get thousands separators and
// floats lose trailing zeros.
func FormatValue(v any) string {
	switch tv := v.(type) {
	case nil:
		return Muted.Render("null")
	case string:
		return tv
	case int:
		return humanize.Comma(int64(tv))
	case int64:
		return humanize.Comma(tv)
	case int32:
		return humanize.Comma(int64(tv))
	case float64:
		return humanize.Commaf(tv)
	case float32:
		return humanize.Commaf(float64(tv))
	case bool:
		if tv {
			return "true"
		}
		return "false"
	case time.Time:
		if tv.Hour() == 0 && tv.Minute() == 0 && tv.Second() == 0 && tv.Nanosecond() == 0 {
			return tv.Format("2006-01-02")
		}
		return tv.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// TruncateWithEllipsis truncates a string to maxLen runes, adding an
// ellipsis when it does.
func TruncateWithEllipsis(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen || strings.Contains(s, "\x1b") {
		return s
	}
	if maxLen <= 1 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-1]) + "…"
}
