package mastery

import (
	"testing"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/store"
)

func masteredWhiteEnrollment() *store.Enrollment {
	e := &store.Enrollment{CurrentBelt: belt.White, Concepts: map[string]*store.Concept{}}
	for _, k := range []string{"variables", "loops", "functions"} {
		e.Concepts[k] = &store.Concept{
			Mastery:       0.95,
			ExposureCount: 10,
			SuccessCount:  9,
			LastSeen:      seenAgo(0),
			BeltLevel:     belt.White,
		}
	}
	return e
}

func TestEvaluate_AllWhiteConceptsMasteredIsEligible(t *testing.T) {
	r := Evaluate(masteredWhiteEnrollment(), 5, baseNow)
	if !r.Eligible || r.NextBelt != belt.Yellow {
		t.Fatalf("got eligible=%v next=%q", r.Eligible, r.NextBelt)
	}
	if r.Details.TotalConcepts != 3 || r.Details.MasteredConcepts != 3 || r.Details.Percent != 100 {
		t.Errorf("details = %+v", r.Details)
	}
}

func TestEvaluate_NoSessionsNotEligible(t *testing.T) {
	r := Evaluate(masteredWhiteEnrollment(), 0, baseNow)
	if r.Eligible {
		t.Fatal("expected not eligible without sessions")
	}
	if r.Details.SessionCount != 0 || r.Details.RequiredSessions <= r.Details.SessionCount {
		t.Errorf("details = %+v", r.Details)
	}
	if r.NextBelt != belt.Yellow {
		t.Errorf("next = %q, want yellow", r.NextBelt)
	}
}

func TestEvaluate_DecayDropsEligibility(t *testing.T) {
	e := masteredWhiteEnrollment()
	for _, c := range e.Concepts {
		c.LastSeen = seenAgo(30) // 0.95 * (1 - 30/90) < 0.8
	}
	if r := Evaluate(e, 5, baseNow); r.Eligible {
		t.Errorf("stale concepts should not count as mastered: %+v", r.Details)
	}
}

func TestEvaluate_IgnoresHigherBeltConcepts(t *testing.T) {
	e := masteredWhiteEnrollment()
	e.Concepts["generics"] = &store.Concept{Mastery: 0.1, ExposureCount: 1, LastSeen: seenAgo(0), BeltLevel: belt.Green}
	r := Evaluate(e, 5, baseNow)
	if !r.Eligible || r.Details.TotalConcepts != 3 {
		t.Errorf("higher-belt concept counted: %+v", r.Details)
	}
}

func TestEvaluate_TooFewConcepts(t *testing.T) {
	e := masteredWhiteEnrollment()
	delete(e.Concepts, "loops")
	delete(e.Concepts, "functions")
	r := Evaluate(e, 5, baseNow)
	if r.Eligible || r.Details.TotalConcepts != 1 || r.Details.RequiredConcepts != 2 {
		t.Errorf("got %+v", r)
	}
}

func TestEvaluate_Terminal(t *testing.T) {
	e := masteredWhiteEnrollment()
	e.CurrentBelt = belt.Black
	r := Evaluate(e, 100, baseNow)
	if r.Eligible || r.NextBelt != "" || r.Details.Reason != "already at max belt" {
		t.Errorf("got %+v", r)
	}
}

func TestEvaluate_EmptyEnrollment(t *testing.T) {
	e := &store.Enrollment{CurrentBelt: belt.White}
	r := Evaluate(e, 3, baseNow)
	if r.Eligible || r.Details.ConceptPct != 0 {
		t.Errorf("got %+v", r)
	}
}
