package fancy

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	RootStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	BranchStyle = lipgloss.NewStyle().
			Foreground(ColorDarkGray)

	ScriptStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	PassStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)
)

// PassText styles passing status text (green)
func PassText(text string) string {
	return PassStyle.Render(text)
}

// WarnText styles warnings (yellow)
func WarnText(text string) string {
	return WarnStyle.Render(text)
}

// ErrorText styles error text (red)
func ErrorText(text string) string {
	return ErrorStyle.Render(text)
}

// PathText styles file paths (gray)
func PathText(text string) string {
	return InfoStyle.Render(text)
}

// ScriptText styles script names (cyan)
func ScriptText(text string) string {
	return ScriptStyle.Render(text)
}
