package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Time layouts used in tables and detail views.
const (
	ListTimeLayout   = "2006-01-02 15:04"
	DetailTimeLayout = time.RFC3339
)

// maxSummaryWidth caps the attribute summary column.
const maxSummaryWidth = 60

// Printer writes command output to out and diagnostics to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	styles Styles
}

// Option configures a Printer.
type Option func(*Printer)

// WithPlain disables styling.
func WithPlain() Option {
	return func(p *Printer) { p.styles = PlainStyles() }
}

// New creates a Printer. Colors follow the capabilities of out.
func New(out, errOut io.Writer, opts ...Option) *Printer {
	p := &Printer{
		out:    out,
		errOut: errOut,
		styles: NewStyles(lipgloss.NewRenderer(out)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Styles returns the active styles.
func (p *Printer) Styles() Styles { return p.styles }

// Out returns the output writer.
func (p *Printer) Out() io.Writer { return p.out }

// Println writes a line to the output.
func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

// Table writes t to the output.
func (p *Printer) Table(t *Table) {
	t.SetHeaderStyle(p.styles.Header)
	fmt.Fprint(p.out, t.String())
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

// Warn writes a muted warning line to the diagnostic writer.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.errOut, p.styles.Muted.Render("warning: "+fmt.Sprintf(format, args...)))
}

// Error writes an error line to the diagnostic writer.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.errOut, p.styles.Error.Render("error: "+err.Error()))
}

// Entities writes a table of entities: id, last update and an attribute
// summary.
func (p *Printer) Entities(entities []types.Entity) {
	if len(entities) == 0 {
		fmt.Fprintln(p.out, p.styles.Muted.Render("No entities."))
		return
	}
	t := NewTable("ID", "UPDATED", "ATTRIBUTES")
	t.SetColumnStyle(0, p.styles.Accent)
	t.SetColumnStyle(1, p.styles.Muted)
	for _, e := range entities {
		t.AddRow(e.ID, e.UpdatedAt.UTC().Format(ListTimeLayout), Summary(e.Attributes, maxSummaryWidth))
	}
	p.Table(t)
}

// Entity writes a key/value detail view of one entity.
func (p *Printer) Entity(e types.Entity) {
	t := NewTableCols(2)
	t.SetColumnStyle(0, p.styles.Muted)
	t.AddRow("id", e.ID)
	t.AddRow("created", e.CreatedAt.UTC().Format(DetailTimeLayout))
	t.AddRow("updated", e.UpdatedAt.UTC().Format(DetailTimeLayout))
	for _, k := range SortedKeys(e.Attributes) {
		t.AddRow(k, FormatValue(e.Attributes[k]))
	}
	p.Table(t)
}

// Summary renders attributes as space separated key=value pairs in key
// order, truncated to width runes.
func Summary(attrs map[string]any, width int) string {
	parts := make([]string, 0, len(attrs))
	for _, k := range SortedKeys(attrs) {
		parts = append(parts, k+"="+FormatValue(attrs[k]))
	}
	return Truncate(strings.Join(parts, " "), width)
}

// FormatValue renders an attribute value: strings verbatim, everything else
// as compact JSON.
func FormatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Truncate shortens s to width runes, marking the cut with an ellipsis.
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
