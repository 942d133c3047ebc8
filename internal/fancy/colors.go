package fancy

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorBlue     = lipgloss.Color("39")
	ColorGreen    = lipgloss.Color("82")
	ColorYellow   = lipgloss.Color("228")
	ColorCyan     = lipgloss.Color("45")
	ColorRed      = lipgloss.Color("196")
	ColorGray     = lipgloss.Color("250")
	ColorWhite    = lipgloss.Color("15")
	ColorDarkGray = lipgloss.Color("240") // branches
)
