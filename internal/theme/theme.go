package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the signal breakdown of the selected item.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// GroupBadgeStyle marks grouped window entries with their count.
var GroupBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorMagenta).
	Padding(0, 1)

// DimmedStyle renders secondary text such as sender addresses.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// TypeStyle returns a color-coded style for a classification type.
func TypeStyle(typ string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch typ {
	case "newsletter":
		return base.Foreground(ColorBlue)
	case "promo":
		return base.Foreground(ColorOrange)
	case "social":
		return base.Foreground(ColorMagenta)
	case "transactional":
		return base.Foreground(ColorYellow)
	case "personal":
		return base.Foreground(ColorGreen)
	default:
		return base.Foreground(ColorGray)
	}
}

// OutcomeStyle returns a color-coded style for an action outcome.
func OutcomeStyle(outcome string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch outcome {
	case "succeeded":
		return base.Foreground(ColorGreen)
	case "denied":
		return base.Foreground(ColorOrange)
	case "needs_confirmation":
		return base.Foreground(ColorYellow)
	case "failed":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// ConfidenceStyle shades a confidence value: strong bulk signals are
// highlighted, weak ones dimmed.
func ConfidenceStyle(confidence float64) lipgloss.Style {
	base := lipgloss.NewStyle()

	switch {
	case confidence >= 0.75:
		return base.Foreground(ColorRed).Bold(true)
	case confidence >= 0.5:
		return base.Foreground(ColorOrange)
	case confidence >= 0.3:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}
