// Package ui provides terminal styling for uxr CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	// HeaderStyle for table headers and section titles.
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

// IsTTY reports whether stdout is a terminal. Non-terminal output (pipes,
// CI, agent harnesses) drops styling and switches list commands to JSON.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ColorEnabled reports whether styled output should be produced: stdout is
// a terminal, the profile supports color, and NO_COLOR is unset.
func ColorEnabled() bool {
	if !IsTTY() {
		return false
	}
	if termenv.EnvNoColor() {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// RenderStatus styles a run status string. Unknown statuses pass through
// unstyled so new states degrade gracefully.
func RenderStatus(status string) string {
	if !ColorEnabled() {
		return status
	}
	switch strings.ToLower(status) {
	case "passed", "healthy":
		return PassStyle.Render(status)
	case "failed", "error", "crashed":
		return FailStyle.Render(status)
	case "timeout", "aborted", "retrying":
		return WarnStyle.Render(status)
	case "queued", "dispatching", "running":
		return AccentStyle.Render(status)
	default:
		return status
	}
}

// RenderMuted styles secondary text (timestamps, ids).
func RenderMuted(s string) string {
	if !ColorEnabled() {
		return s
	}
	return MutedStyle.Render(s)
}

// RenderHeader styles a table header row.
func RenderHeader(s string) string {
	if !ColorEnabled() {
		return s
	}
	return HeaderStyle.Render(s)
}

// RenderPass styles text with pass (green) coloring.
func RenderPass(s string) string {
	if !ColorEnabled() {
		return s
	}
	return PassStyle.Render(s)
}

// RenderFail styles text with fail (red) coloring.
func RenderFail(s string) string {
	if !ColorEnabled() {
		return s
	}
	return FailStyle.Render(s)
}

// RenderWarn styles text with warning (yellow) coloring.
func RenderWarn(s string) string {
	if !ColorEnabled() {
		return s
	}
	return WarnStyle.Render(s)
}
