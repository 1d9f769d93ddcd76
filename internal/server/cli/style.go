package cli

import "github.com/charmbracelet/lipgloss"

var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"})

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"})

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
)

func ok(msg string) string   { return okStyle.Render(msg) }
func fail(msg string) string { return errorStyle.Render(msg) }
func hint(msg string) string { return hintStyle.Render(msg) }
func dim(msg string) string  { return dimStyle.Render(msg) }
