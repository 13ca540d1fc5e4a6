package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// RefreshMsg asks the program to redraw after the bound records changed.
type RefreshMsg struct{}

const columnGap = "  "

// ListView shows the records bound to one property as a table.
//
// Thread-safety: SetProperty and ForceUpdate may be called from any
// goroutine; Update and View run on the bubbletea program goroutine.
type ListView struct {
	id       string
	property string
	title    string
	columns  []string
	styles   styles
	keys     keyMap
	help     help.Model

	mu        sync.Mutex
	send      func(tea.Msg)
	records   []ir.IRObject
	cursor    int
	refreshes int
}

// Option configures a ListView.
type Option func(*ListView)

// WithTitle sets the heading. Defaults to the property name.
func WithTitle(title string) Option {
	return func(v *ListView) {
		v.title = title
	}
}

// WithColumns fixes the displayed fields and their order. By default every
// field present in any record is shown, in key order.
func WithColumns(columns ...string) Option {
	return func(v *ListView) {
		v.columns = columns
	}
}

// WithRenderer builds the styles from r instead of the default renderer.
func WithRenderer(r *lipgloss.Renderer) Option {
	return func(v *ListView) {
		if r != nil {
			v.styles = newStyles(r)
		}
	}
}

// NewListView creates a view bound through property. Its component id is a
// fresh UUID.
func NewListView(property string, opts ...Option) *ListView {
	v := &ListView{
		id:       uuid.NewString(),
		property: property,
		title:    property,
		styles:   newStyles(lipgloss.DefaultRenderer()),
		keys:     defaultKeyMap(),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.help = help.New()
	v.help.Styles.ShortKey = v.styles.HelpKey
	v.help.Styles.ShortDesc = v.styles.HelpDesc
	v.help.Styles.ShortSeparator = v.styles.HelpDesc
	return v
}

// Attach routes ForceUpdate to p. Call before p.Run.
func (v *ListView) Attach(p *tea.Program) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.send = p.Send
}

// ComponentID implements binder.Component.
func (v *ListView) ComponentID() string {
	return v.id
}

// ForceUpdate implements binder.Component. Without an attached program it
// does nothing.
func (v *ListView) ForceUpdate() {
	v.mu.Lock()
	send := v.send
	v.mu.Unlock()
	if send != nil {
		send(RefreshMsg{})
	}
}

// SetProperty implements binder.PropertySetter. It accepts a
// store.ResultSet, a single ir.IRObject, or nil; other properties are ignored.
func (v *ListView) SetProperty(name string, value any) {
	if name != v.property {
		return
	}

	var recs []ir.IRObject
	switch val := value.(type) {
	case store.ResultSet:
		recs = val.Records()
	case ir.IRObject:
		if val != nil {
			recs = []ir.IRObject{val.Clone()}
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = recs
	if v.cursor >= len(recs) {
		v.cursor = max(len(recs)-1, 0)
	}
}

// Records returns the currently displayed records.
func (v *ListView) Records() []ir.IRObject {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ir.IRObject, len(v.records))
	for i, rec := range v.records {
		out[i] = rec.Clone()
	}
	return out
}

// Cursor returns the selected row index.
func (v *ListView) Cursor() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cursor
}

// Refreshes returns how many RefreshMsg the view has handled.
func (v *ListView) Refreshes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refreshes
}

// Init implements tea.Model.
func (v *ListView) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (v *ListView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshMsg:
		v.mu.Lock()
		v.refreshes++
		v.mu.Unlock()
	case tea.WindowSizeMsg:
		v.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, v.keys.Quit):
			return v, tea.Quit
		case key.Matches(msg, v.keys.Up):
			v.move(-1)
		case key.Matches(msg, v.keys.Down):
			v.move(1)
		}
	}
	return v, nil
}

func (v *ListView) move(delta int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.cursor + delta
	if next < 0 || next >= len(v.records) {
		return
	}
	v.cursor = next
}

// View implements tea.Model.
func (v *ListView) View() string {
	v.mu.Lock()
	recs := v.records
	cursor := v.cursor
	v.mu.Unlock()

	var b strings.Builder
	b.WriteString(v.styles.Title.Render(fmt.Sprintf("%s (%d)", v.title, len(recs))))
	b.WriteString("\n\n")

	if len(recs) == 0 {
		b.WriteString(v.styles.Empty.Render("no records"))
	} else {
		b.WriteString(v.renderTable(recs, cursor))
	}

	b.WriteString("\n\n")
	b.WriteString(v.help.ShortHelpView(v.keys.ShortHelp()))
	return b.String()
}

func (v *ListView) renderTable(recs []ir.IRObject, cursor int) string {
	columns := v.columns
	if len(columns) == 0 {
		columns = inferColumns(recs)
	}

	cells := make([][]string, len(recs))
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = lipgloss.Width(col)
	}
	for r, rec := range recs {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			cells[r][i] = formatCell(rec[col])
			widths[i] = max(widths[i], lipgloss.Width(cells[r][i]))
		}
	}

	lines := make([]string, 0, len(recs)+1)
	lines = append(lines, v.styles.Header.Render("  "+joinRow(columns, widths)))
	for r, row := range cells {
		if r == cursor {
			lines = append(lines, v.styles.Selected.Render("> "+joinRow(row, widths)))
			continue
		}
		lines = append(lines, v.styles.Row.Render("  "+joinRow(row, widths)))
	}
	return strings.Join(lines, "\n")
}

// joinRow pads every cell but the last to its column width.
func joinRow(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteString(columnGap)
		}
		b.WriteString(cell)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
		}
	}
	return b.String()
}

func inferColumns(recs []ir.IRObject) []string {
	union := ir.IRObject{}
	for _, rec := range recs {
		for k := range rec {
			union[k] = ir.IRNull{}
		}
	}
	return union.SortedKeys()
}

func formatCell(v ir.IRValue) string {
	switch val := v.(type) {
	case nil:
		return ""
	case ir.IRString:
		return string(val)
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "?"
	}
	return string(data)
}
