// Package report renders enrollment progress for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/ui/components"
	"github.com/abhisek/dojo/internal/ui/theme"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 72

// conceptColumn is the label width of concept meters.
const conceptColumn = 22

// Progress is everything shown by RenderProgress.
type Progress struct {
	Skill       string
	Enrollment  *store.Enrollment
	Eligibility mastery.Report
	Concepts    []mastery.ConceptView
	Suggestions []spacedrep.Suggestion
}

// RenderProgress draws the belt ladder, advancement requirements, concepts
// by strength and the suggested focus.
func RenderProgress(p Progress, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	outer := width
	// border and padding
	width = max(outer-6, 20)
	var b strings.Builder

	b.WriteString(theme.Title.Render(p.Skill))
	b.WriteString("  ")
	b.WriteString(theme.Belt(p.Enrollment.CurrentBelt).Render(string(p.Enrollment.CurrentBelt) + " belt"))
	b.WriteString("\n")
	b.WriteString(Ladder(p.Enrollment.CurrentBelt))
	b.WriteString("\n")

	b.WriteString(theme.Section.Render("Next belt"))
	b.WriteString("\n")
	b.WriteString(requirements(p.Eligibility, p.Enrollment.AssessmentAvailable, width))

	b.WriteString(theme.Section.Render("Concepts"))
	b.WriteString("\n")
	if len(p.Concepts) == 0 {
		b.WriteString(theme.Hint.Render("No concepts practiced yet."))
		b.WriteString("\n")
	}
	groups := mastery.Group(p.Concepts)
	for _, s := range []mastery.Strength{mastery.StrengthStrong, mastery.StrengthDeveloping, mastery.StrengthWeak} {
		for _, v := range groups[s] {
			m := components.NewMeter(v.Key, v.Effective, width)
			m.LabelWidth = conceptColumn
			m.ShowPercent = true
			m.Mark = mastery.MasteredThreshold
			m.Fill = lipgloss.NewStyle().Background(theme.StrengthColor(s))
			b.WriteString(m.View())
			b.WriteString("\n")
		}
	}

	if len(p.Suggestions) > 0 {
		b.WriteString(theme.Section.Render("Suggested focus"))
		b.WriteString("\n")
		for i, sg := range p.Suggestions {
			fmt.Fprintf(&b, "%d. %s %s\n", i+1, theme.Body.Render(sg.Concept), theme.Hint.Render(sg.Reason))
		}
	}

	return theme.Card.Width(outer).Render(strings.TrimRight(b.String(), "\n"))
}

// Ladder renders every belt, marking the current one.
func Ladder(current belt.Belt) string {
	parts := make([]string, 0, len(belt.Order))
	reached := true
	for _, b := range belt.Order {
		name := string(b)
		switch {
		case b == current:
			parts = append(parts, theme.Belt(b).Render("["+name+"]"))
			reached = false
		case reached:
			parts = append(parts, theme.Belt(b).Render(name))
		default:
			parts = append(parts, theme.Subtitle.Render(name))
		}
	}
	return strings.Join(parts, theme.Subtitle.Render(" > "))
}

func requirements(r mastery.Report, assessmentReady bool, width int) string {
	if r.NextBelt == "" {
		return theme.Correct.Render("Top of the ladder.") + "\n"
	}
	d := r.Details
	var b strings.Builder
	pct := 0.0
	if d.RequiredPct > 0 {
		pct = min(d.ConceptPct/d.RequiredPct, 1)
	}
	b.WriteString(components.NewMeter(
		fmt.Sprintf("mastered %d%%/%d%%", d.Percent, d.RequiredPercent), pct, width/2).View())
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s  %s\n",
		check(d.SessionCount >= d.RequiredSessions, fmt.Sprintf("sessions %d/%d", d.SessionCount, d.RequiredSessions)),
		check(d.TotalConcepts >= d.RequiredConcepts, fmt.Sprintf("concepts %d/%d", d.TotalConcepts, d.RequiredConcepts)))
	switch {
	case assessmentReady:
		b.WriteString(theme.Correct.Render("Assessment available"))
	case r.Eligible:
		b.WriteString(theme.Correct.Render("Ready for " + string(r.NextBelt) + " assessment"))
	default:
		b.WriteString(theme.Hint.Render("Working toward " + string(r.NextBelt)))
	}
	b.WriteString("\n")
	return b.String()
}

func check(ok bool, label string) string {
	if ok {
		return theme.Correct.Render("✓ " + label)
	}
	return theme.Incorrect.Render("✗ " + label)
}

// RenderHistory lists belt changes oldest first.
func RenderHistory(skill string, entries []store.BeltHistoryEntry) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render(skill + " belt history"))
	b.WriteString("\n")
	if len(entries) == 0 {
		b.WriteString(theme.Hint.Render("No belt changes recorded."))
		return b.String()
	}
	for _, h := range entries {
		from := "start"
		if h.FromBelt != "" {
			from = string(h.FromBelt)
		}
		fmt.Fprintf(&b, "%s  %s → %s  %s\n",
			theme.Subtitle.Render(h.AchievedAt.Local().Format(time.DateOnly)),
			theme.Belt(h.FromBelt).Render(from),
			theme.Belt(h.ToBelt).Render(string(h.ToBelt)),
			theme.Hint.Render(h.Reason))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderSkills lists a user's enrollments.
func RenderSkills(list []*store.Enrollment) string {
	if len(list) == 0 {
		return theme.Hint.Render("Not enrolled in any skill. Start one with: dojo skill start <name>")
	}
	var b strings.Builder
	for _, e := range list {
		flag := ""
		if e.AssessmentAvailable {
			flag = theme.Correct.Render("  assessment available")
		}
		fmt.Fprintf(&b, "%-24s %s  %s%s\n",
			e.SkillID,
			theme.Belt(e.CurrentBelt).Render(fmt.Sprintf("%-7s", e.CurrentBelt)),
			theme.Subtitle.Render(fmt.Sprintf("%d concepts", len(e.Concepts))),
			flag)
	}
	return strings.TrimRight(b.String(), "\n")
}
