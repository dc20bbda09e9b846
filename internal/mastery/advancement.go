package mastery

import (
	"math"
	"time"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/store"
)

// MasteredThreshold is the effective mastery at which a concept counts as
// mastered for advancement.
const MasteredThreshold = 0.8

// Details reports actual against required values for every advancement
// dimension.
type Details struct {
	ConceptPct       float64 `json:"concept_pct"`
	RequiredPct      float64 `json:"required_pct"`
	Percent          int     `json:"percent"`
	RequiredPercent  int     `json:"required_percent"`
	SessionCount     int     `json:"session_count"`
	RequiredSessions int     `json:"required_sessions"`
	TotalConcepts    int     `json:"total_concepts"`
	RequiredConcepts int     `json:"required_concepts"`
	MasteredConcepts int     `json:"mastered_concepts"`
	Reason           string  `json:"reason,omitempty"`
}

// Report is the result of evaluating an enrollment for its next belt.
type Report struct {
	Eligible bool      `json:"eligible"`
	NextBelt belt.Belt `json:"next_belt,omitempty"`
	Details  Details   `json:"details"`
}

// Evaluate checks whether the enrollment meets the thresholds of its current
// belt. Only concepts tagged at or below the current belt are counted, and
// their mastery is read through decay.
func Evaluate(e *store.Enrollment, completedSessions int, now time.Time) Report {
	next, ok := belt.Next(e.CurrentBelt)
	if !ok {
		return Report{Details: Details{
			SessionCount: completedSessions,
			Reason:       belt.ErrMaxBeltReached.Error(),
		}}
	}

	th := belt.ThresholdFor(e.CurrentBelt)
	d := Details{
		RequiredPct:      th.ConceptPct,
		RequiredPercent:  int(math.Round(th.ConceptPct * 100)),
		SessionCount:     completedSessions,
		RequiredSessions: th.Sessions,
		RequiredConcepts: th.Concepts,
	}

	for _, c := range e.Concepts {
		if !belt.AtOrBelow(c.BeltLevel, e.CurrentBelt) {
			continue
		}
		d.TotalConcepts++
		if EffectiveMastery(c, now) >= MasteredThreshold {
			d.MasteredConcepts++
		}
	}
	if d.TotalConcepts > 0 {
		d.ConceptPct = float64(d.MasteredConcepts) / float64(d.TotalConcepts)
	}
	d.Percent = int(math.Round(d.ConceptPct * 100))

	eligible := d.ConceptPct >= th.ConceptPct &&
		completedSessions >= th.Sessions &&
		d.TotalConcepts >= th.Concepts

	return Report{Eligible: eligible, NextBelt: next, Details: d}
}
