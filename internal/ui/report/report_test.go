package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/store"
)

func TestRenderProgress(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := &store.Enrollment{
		SkillID:     "go",
		CurrentBelt: belt.Yellow,
		Concepts: map[string]*store.Concept{
			"closures": {Mastery: 0.9, LastSeen: &now, BeltLevel: belt.White},
			"generics": {Mastery: 0.2, LastSeen: &now, BeltLevel: belt.Yellow},
		},
	}
	out := RenderProgress(Progress{
		Skill:       "Go",
		Enrollment:  e,
		Eligibility: mastery.Evaluate(e, 1, now),
		Concepts:    mastery.Snapshot(e, now),
		Suggestions: []spacedrep.Suggestion{{Concept: "generics", Reason: "weak"}},
	}, 80)

	assert.Contains(t, out, "Go")
	assert.Contains(t, out, "[yellow]")
	assert.Contains(t, out, "closures")
	assert.Contains(t, out, "90%")
	assert.Contains(t, out, "Suggested focus")
	assert.Contains(t, out, "Working toward orange")
}

func TestRenderProgressTopBelt(t *testing.T) {
	e := &store.Enrollment{SkillID: "go", CurrentBelt: belt.Black}
	out := RenderProgress(Progress{
		Skill:       "Go",
		Enrollment:  e,
		Eligibility: mastery.Evaluate(e, 0, time.Now()),
	}, 0)
	assert.Contains(t, out, "Top of the ladder.")
	assert.Contains(t, out, "No concepts practiced yet.")
}

func TestRenderHistory(t *testing.T) {
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	out := RenderHistory("Go", []store.BeltHistoryEntry{
		{ToBelt: belt.White, AchievedAt: at, Reason: "skill started"},
		{FromBelt: belt.White, ToBelt: belt.Yellow, AchievedAt: at, Reason: "assessment passed"},
	})
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "skill started")
	assert.Contains(t, out, "assessment passed")

	assert.Contains(t, RenderHistory("Go", nil), "No belt changes")
}

func TestRenderSkills(t *testing.T) {
	out := RenderSkills([]*store.Enrollment{{SkillID: "rust", CurrentBelt: belt.Green, AssessmentAvailable: true}})
	assert.Contains(t, out, "rust")
	assert.Contains(t, out, "assessment available")
	assert.Contains(t, RenderSkills(nil), "dojo skill start")
}
