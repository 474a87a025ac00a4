package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPurple    = lipgloss.Color("#7D56F4")
	colorGreen     = lipgloss.Color("#04B575")
	colorRed       = lipgloss.Color("#FF4141")
	colorYellow    = lipgloss.Color("#FFC107")
	colorGray      = lipgloss.Color("#626262")
	colorLightGray = lipgloss.Color("#9e9e9e")
	colorWhite     = lipgloss.Color("#FFFFFF")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true).
			MarginBottom(1)

	styleTable = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPurple)

	styleHeader = lipgloss.NewStyle().
			Foreground(colorWhite).
			Bold(true)

	styleSelected = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorPurple).
			Bold(true)

	styleCommitted = lipgloss.NewStyle().
			Foreground(colorGreen)

	styleFailed = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	stylePending = lipgloss.NewStyle().
			Foreground(colorYellow)

	styleSummary = lipgloss.NewStyle().
			Foreground(colorLightGray)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorGray).
			MarginTop(1)

	styleError = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)
