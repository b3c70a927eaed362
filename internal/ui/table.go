package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table is a borderless table aligned on spaces. Widths are measured on the
// unstyled text so ANSI sequences do not skew alignment.
type Table struct {
	header    []string
	rows      [][]string
	colWidths []int
	padding   int

	headerStyle lipgloss.Style
	colStyles   map[int]lipgloss.Style
}

// NewTable creates a table with one column per header cell. Pass no header
// cells and a column count via NewTableCols for a headerless table.
func NewTable(header ...string) *Table {
	t := NewTableCols(len(header))
	t.header = header
	for i, h := range header {
		t.colWidths[i] = lipgloss.Width(h)
	}
	return t
}

// NewTableCols creates a headerless table with cols columns.
func NewTableCols(cols int) *Table {
	return &Table{
		colWidths:   make([]int, cols),
		padding:     2,
		colStyles:   map[int]lipgloss.Style{},
		headerStyle: lipgloss.NewStyle(),
	}
}

// SetHeaderStyle styles the header row.
func (t *Table) SetHeaderStyle(s lipgloss.Style) { t.headerStyle = s }

// SetColumnStyle styles every body cell of column i.
func (t *Table) SetColumnStyle(i int, s lipgloss.Style) { t.colStyles[i] = s }

// AddRow appends a row. Extra cells are dropped and missing cells are blank.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.colWidths))
	for i := 0; i < len(row) && i < len(cells); i++ {
		row[i] = cells[i]
		if w := lipgloss.Width(cells[i]); w > t.colWidths[i] {
			t.colWidths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of body rows.
func (t *Table) Len() int { return len(t.rows) }

// String renders the table, one line per row, without trailing spaces.
func (t *Table) String() string {
	if len(t.rows) == 0 && len(t.header) == 0 {
		return ""
	}
	var sb strings.Builder
	if len(t.header) > 0 {
		t.writeRow(&sb, t.header, func(int) (lipgloss.Style, bool) { return t.headerStyle, true })
	}
	for _, row := range t.rows {
		t.writeRow(&sb, row, func(i int) (lipgloss.Style, bool) {
			s, ok := t.colStyles[i]
			return s, ok
		})
	}
	return sb.String()
}

func (t *Table) writeRow(sb *strings.Builder, row []string, style func(int) (lipgloss.Style, bool)) {
	pad := strings.Repeat(" ", t.padding)
	last := len(row) - 1
	for last > 0 && row[last] == "" {
		last--
	}
	for i := 0; i <= last; i++ {
		if i > 0 {
			sb.WriteString(pad)
		}
		cell := row[i]
		if s, ok := style(i); ok && cell != "" {
			sb.WriteString(s.Render(cell))
		} else {
			sb.WriteString(cell)
		}
		if i < last {
			sb.WriteString(strings.Repeat(" ", t.colWidths[i]-lipgloss.Width(cell)))
		}
	}
	sb.WriteString("\n")
}
