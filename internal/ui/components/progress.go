package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/dojo/internal/ui/theme"
)

// Meter is a one-line gauge: an optional label column, a bar and an
// optional percentage.
type Meter struct {
	Label string
	// LabelWidth pads or cuts Label so stacked meters line up. Zero uses
	// the label as is.
	LabelWidth  int
	Value       float64
	Width       int
	ShowPercent bool
	Fill        lipgloss.Style

	// Mark draws a tick at this fraction of the bar, e.g. the mastery
	// threshold. Zero draws none.
	Mark float64
}

const minBar = 4

// NewMeter returns a meter filled in the theme's progress color.
func NewMeter(label string, value float64, width int) Meter {
	return Meter{Label: label, Value: value, Width: width, Fill: theme.ProgressFilled}
}

func (m Meter) View() string {
	var b strings.Builder
	if m.Label != "" {
		b.WriteString(theme.Body.Render(fitLabel(m.Label, m.LabelWidth)))
		b.WriteString("  ")
	}
	used := lipgloss.Width(b.String())
	if m.ShowPercent {
		used += len("  100%")
	}

	bar := max(m.Width-used, minBar)
	value := min(max(m.Value, 0), 1)
	filled := int(float64(bar)*value + 0.5)
	mark := -1
	if m.Mark > 0 && m.Mark < 1 {
		mark = int(float64(bar) * m.Mark)
	}

	cells := []rune(strings.Repeat(" ", bar))
	if mark >= 0 {
		cells[mark] = '|'
	}
	b.WriteString(m.Fill.Render(string(cells[:filled])))
	b.WriteString(theme.ProgressEmpty.Render(string(cells[filled:])))

	if m.ShowPercent {
		b.WriteString(theme.Subtitle.Render(fmt.Sprintf("  %3d%%", int(value*100+0.5))))
	}
	return b.String()
}

func fitLabel(s string, w int) string {
	if w <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) > w {
		return string(r[:w-1]) + "…"
	}
	return s + strings.Repeat(" ", w-len(r))
}
