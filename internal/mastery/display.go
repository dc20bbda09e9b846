package mastery

import (
	"sort"
	"time"

	"github.com/abhisek/dojo/internal/store"
)

// Strength buckets a concept by effective mastery for prompts and reports.
type Strength string

const (
	StrengthStrong     Strength = "strong"
	StrengthDeveloping Strength = "developing"
	StrengthWeak       Strength = "weak"
)

// StrengthOf maps an effective mastery value to its bucket.
func StrengthOf(effective float64) Strength {
	switch {
	case effective >= MasteredThreshold:
		return StrengthStrong
	case effective >= 0.5:
		return StrengthDeveloping
	default:
		return StrengthWeak
	}
}

// ConceptView is a concept with its mastery projected onto a point in time.
type ConceptView struct {
	Key       string        `json:"key"`
	Effective float64       `json:"effective_mastery"`
	Strength  Strength      `json:"strength"`
	Record    store.Concept `json:"record"`
}

// Snapshot returns every concept of e with its effective mastery, strongest
// first and then by key.
func Snapshot(e *store.Enrollment, now time.Time) []ConceptView {
	out := make([]ConceptView, 0, len(e.Concepts))
	for key, c := range e.Concepts {
		eff := EffectiveMastery(c, now)
		out = append(out, ConceptView{Key: key, Effective: eff, Strength: StrengthOf(eff), Record: *c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Effective != out[j].Effective {
			return out[i].Effective > out[j].Effective
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Group splits views by strength, preserving order.
func Group(views []ConceptView) map[Strength][]ConceptView {
	out := map[Strength][]ConceptView{}
	for _, v := range views {
		out[v.Strength] = append(out[v.Strength], v)
	}
	return out
}
