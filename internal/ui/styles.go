// Package ui renders pantry CLI output: aligned tables, key/value detail
// views, JSON and muted warnings.
package ui

import "github.com/charmbracelet/lipgloss"

// Color palette
// - Default: primary text
// - Accent (soft purple #A78BFA): ids and headers
// - Muted (gray): secondary info, virtual entries, warnings
// - Error (red): failures on stderr

// Styles groups the styles a Printer uses.
type Styles struct {
	Accent lipgloss.Style
	Muted  lipgloss.Style
	Bold   lipgloss.Style
	Header lipgloss.Style
	Error  lipgloss.Style
}

// NewStyles builds the palette for renderer r, which decides whether colors
// are emitted.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Accent: r.NewStyle().Foreground(lipgloss.Color("#A78BFA")),
		Muted:  r.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		Bold:   r.NewStyle().Bold(true),
		Header: r.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true),
		Error:  r.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	}
}

// PlainStyles renders everything unstyled.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Accent: s, Muted: s, Bold: s, Header: s, Error: s}
}
