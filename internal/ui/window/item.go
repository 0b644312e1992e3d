package window

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-sweep/internal/buffer"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/theme"
)

// Entry pairs a window item with the classification of its representative
// message.
type Entry struct {
	Item buffer.Item

	// Result is the zero value until the item has been classified.
	Result     model.ClassificationResult
	Classified bool
}

// ID returns the id of the representative message.
func (e Entry) ID() string {
	return e.Item.Item.ID
}

// FilterValue returns the string used for fuzzy filtering.
func (e Entry) FilterValue() string {
	return e.Item.Item.FromAddress + " " + e.Item.Item.Subject
}

// Title returns the subject line.
func (e Entry) Title() string { return e.Item.Item.Subject }

// Description returns a short summary line for the list.
func (e Entry) Description() string {
	parts := []string{sender(e.Item.Item), relativeTime(e.Item.Item.ReceivedAt)}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for window entries.
type ItemDelegate struct {
	// now is injectable for stable relative times in tests.
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single window entry.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	e, ok := item.(Entry)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(e, index == m.Index(), m.Width()))
}

func (d ItemDelegate) renderLine(e Entry, selected bool, width int) string {
	it := e.Item.Item

	typ := string(model.TypeUnknown)
	if e.Classified {
		typ = string(e.Result.Type)
	}
	typeBadge := theme.TypeStyle(typ).Render(fmt.Sprintf("%-6s", typeLabel(typ)))

	groupBadge := ""
	if e.Item.IsGroup() {
		groupBadge = " " + theme.GroupBadgeStyle.Render(fmt.Sprintf("×%d %s", e.Item.Count, e.Item.Domain()))
	}

	conf := ""
	if e.Classified {
		conf = " " + theme.ConfidenceStyle(e.Result.Confidence).Render(fmt.Sprintf("%.2f", e.Result.Confidence))
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	age := theme.DimmedStyle.Render(relativeTimeFrom(it.ReceivedAt, now()))

	from := theme.DimmedStyle.Render(truncate(sender(it), 28))
	subject := it.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	line := fmt.Sprintf("%s%s %s %s%s  %s", typeBadge, groupBadge, from, subject, conf, age)
	if width > 0 && lipgloss.Width(line) > width-2 {
		line = truncateStyled(line, width-2)
	}

	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// sender prefers the display name and falls back to the address.
func sender(it model.NormalizedItem) string {
	if it.FromName != "" {
		return it.FromName
	}
	return it.FromAddress
}

// typeLabel returns a short label for the given classification type.
func typeLabel(typ string) string {
	switch typ {
	case "newsletter":
		return "NEWS"
	case "promo":
		return "PROMO"
	case "social":
		return "SOCIAL"
	case "transactional":
		return "TXN"
	case "personal":
		return "PERS"
	default:
		return "?"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// truncateStyled cuts a rendered line to width cells without breaking ANSI
// sequences.
func truncateStyled(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	return relativeTimeFrom(t, time.Now())
}

func relativeTimeFrom(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
