// Package theme holds the terminal palette and shared styles.
package theme

import (
	"image/color"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
)

// Color palette
var (
	Primary   = lipgloss.Color("#8B5CF6") // Vivid Purple
	Secondary = lipgloss.Color("#14B8A6") // Teal
	Accent    = lipgloss.Color("#F97316") // Orange
	Success   = lipgloss.Color("#22C55E") // Green
	Warning   = lipgloss.Color("#EAB308") // Amber
	Error     = lipgloss.Color("#F43F5E") // Rose
	Text      = lipgloss.Color("#F8FAFC") // White
	TextDim   = lipgloss.Color("#94A3B8") // Slate
	Border    = lipgloss.Color("#334155") // Slate
)

// beltColors are the dye of each belt on the ladder.
var beltColors = map[belt.Belt]string{
	belt.White:  "#F8FAFC",
	belt.Yellow: "#FACC15",
	belt.Orange: "#F97316",
	belt.Green:  "#22C55E",
	belt.Blue:   "#3B82F6",
	belt.Purple: "#8B5CF6",
	belt.Brown:  "#92400E",
	belt.Black:  "#64748B",
}

// Typography
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(TextDim)

	Body = lipgloss.NewStyle().
		Foreground(Text)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)

	Section = lipgloss.NewStyle().
		Bold(true).
		Foreground(Secondary).
		MarginTop(1)
)

// Layout
var Card = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Border).
	Padding(0, 2)

// States
var (
	Correct = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	Incorrect = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)
)

// Components
var (
	ProgressFilled = lipgloss.NewStyle().
			Background(Secondary)

	ProgressEmpty = lipgloss.NewStyle().
			Background(Border)
)

// Belt returns the style for a belt badge.
func Belt(b belt.Belt) lipgloss.Style {
	c, ok := beltColors[b]
	if !ok {
		c = "#94A3B8"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Bold(true)
}

// StrengthColor maps a mastery bucket to its color.
func StrengthColor(s mastery.Strength) color.Color {
	switch s {
	case mastery.StrengthStrong:
		return Success
	case mastery.StrengthDeveloping:
		return Warning
	default:
		return Error
	}
}

// Strength returns the text style for a mastery bucket.
func Strength(s mastery.Strength) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StrengthColor(s))
}
