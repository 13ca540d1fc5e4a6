package tui

import "github.com/charmbracelet/lipgloss"

// Theme colors.
const (
	ColorAccent    = "86"  // titles
	ColorHighlight = "205" // selected row, key hints
	ColorMuted     = "241" // header, help text
	ColorText      = "252" // rows
)

// styles is the set of styles a ListView renders with. They are built from
// one renderer so tests can pin the color profile.
type styles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Row      lipgloss.Style
	Selected lipgloss.Style
	Empty    lipgloss.Style
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorAccent)),
		Header: r.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Row: r.NewStyle().
			Foreground(lipgloss.Color(ColorText)),
		Selected: r.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)).
			Bold(true),
		Empty: r.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)).
			Italic(true),
		HelpKey: r.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)).
			Bold(true),
		HelpDesc: r.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
	}
}
