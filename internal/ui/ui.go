// Package ui provides terminal rendering helpers for CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	dimStyle    = lipgloss.NewStyle().Faint(true)

	colorEnabled = termenv.EnvColorProfile() != termenv.Ascii
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderPass renders success output (green).
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders warning output (orange).
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders failure output (red).
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent renders highlighted output (blue).
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim renders de-emphasized output.
func RenderDim(s string) string { return render(dimStyle, s) }
