package ui

import "github.com/charmbracelet/lipgloss"

const ellipsis = "…"

var (
	green = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#89F0CB"}
	red   = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	gray  = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	subtleStyle = lipgloss.NewStyle().Foreground(gray)

	errorStyle = lipgloss.NewStyle().Foreground(red)

	characterStyle = lipgloss.NewStyle().Bold(true)

	helpStyle = lipgloss.NewStyle().Foreground(gray).MarginTop(1)
)
