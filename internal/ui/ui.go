// Package ui holds the terminal render helpers shared by the CLI
// commands. Output degrades to plain text when stdout is not a terminal,
// when NO_COLOR is set, or when the terminal reports no color support.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// Enabled reports whether styled output should be produced. Computed per
// call so tests can flip the environment.
func Enabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !Enabled() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders s in the success style.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders s in the warning style.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders s in the failure style.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent renders s in the accent style used for identifiers and counts.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderFaint renders s dimmed, for secondary detail.
func RenderFaint(s string) string { return render(faintStyle, s) }

// RenderHeader renders s as a section heading.
func RenderHeader(s string) string { return render(headerStyle, s) }

// RenderStatus picks the style matching a terminal sync status word.
// Unknown words come back unstyled.
func RenderStatus(s string) string {
	switch s {
	case "completed":
		return RenderPass(s)
	case "failed":
		return RenderFail(s)
	case "started":
		return RenderWarn(s)
	default:
		return s
	}
}
