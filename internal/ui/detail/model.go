// Package detail renders the signal breakdown of the selected window entry.
package detail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/theme"
	"github.com/nhle/inbox-sweep/internal/ui/window"
)

// PanelHeight is the number of rows the panel occupies including its border.
const PanelHeight = 9

// Model is the detail panel shown under the window list.
type Model struct {
	entry  *window.Entry
	width  int
	height int
}

// New creates a new detail panel.
func New(width, height int) Model {
	return Model{width: width, height: height}
}

// SetEntry updates the entry being displayed. Passing nil clears it.
func (m *Model) SetEntry(e *window.Entry) {
	m.entry = e
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// View renders the panel.
func (m Model) View() string {
	inner := max(m.width-4, 10)
	style := theme.DetailPanelStyle.Width(inner).Height(max(m.height-2, 1))

	if m.entry == nil {
		return style.Render(theme.DimmedStyle.Render("Nothing selected"))
	}
	return style.Render(m.renderContent(inner))
}

// renderContent builds the panel body.
func (m Model) renderContent(width int) string {
	e := m.entry
	it := e.Item.Item

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-9s", label+":")), valStyle.Render(value))
	}

	var lines []string

	from := it.FromAddress
	if it.FromName != "" {
		from = fmt.Sprintf("%s <%s>", it.FromName, it.FromAddress)
	}
	lines = append(lines, row("From", from))
	if e.Item.IsGroup() {
		lines = append(lines, row("Group", fmt.Sprintf("%d messages from %s", e.Item.Count, e.Item.Domain())))
	}
	if !it.ReceivedAt.IsZero() {
		lines = append(lines, row("Received", it.ReceivedAt.Local().Format("2006-01-02 15:04")))
	}
	lines = append(lines, row("Unsub", unsubscribeSummary(it.Unsubscribe)))

	if !e.Classified {
		lines = append(lines, theme.DimmedStyle.Render("Not classified yet"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	r := e.Result
	verdict := fmt.Sprintf("%s %s",
		theme.TypeStyle(string(r.Type)).Render(string(r.Type)),
		theme.ConfidenceStyle(r.Confidence).Render(fmt.Sprintf("%.2f", r.Confidence)),
	)
	lines = append(lines, row("Class", verdict))
	lines = append(lines, row("Safety", verdictSummary(r.Verdict)))
	lines = append(lines, row("Signals", truncateSignals(signalSummary(r.Signals), width-10)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// signalSummary lists non-zero signals by weighted contribution, largest
// first.
func signalSummary(signals []model.Signal) string {
	active := make([]model.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Score > 0 {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return "none"
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Score*active[i].Weight > active[j].Score*active[j].Weight
	})

	parts := make([]string, len(active))
	for i, s := range active {
		parts[i] = fmt.Sprintf("%s %.2f×%.2f", s.Name, s.Score, s.Weight)
	}
	return strings.Join(parts, ", ")
}

func truncateSignals(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if width > len(r) {
		width = len(r)
	}
	return string(r[:width-1]) + "…"
}

func unsubscribeSummary(u model.Unsubscribe) string {
	var parts []string
	if u.HTTPURL != "" {
		if u.OneClick {
			parts = append(parts, "one-click")
		} else {
			parts = append(parts, "link")
		}
	}
	if u.Mailto != "" {
		parts = append(parts, "mailto")
	}
	if len(parts) == 0 {
		return "none (block fallback)"
	}
	return strings.Join(parts, " + ")
}

func verdictSummary(v model.SafetyVerdict) string {
	switch {
	case !v.Allowed:
		return theme.OutcomeStyle("denied").Render("protected: " + v.Reason)
	case v.RequiresConfirmation:
		return theme.OutcomeStyle("needs_confirmation").Render("confirm: " + v.Reason)
	default:
		return theme.OutcomeStyle("succeeded").Render("ok")
	}
}
