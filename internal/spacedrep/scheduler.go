// Package spacedrep ranks the concepts an enrollment should revisit next.
package spacedrep

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/store"
)

const (
	// MaxSuggestions caps the list returned by Prioritize.
	MaxSuggestions = 5

	// WeakThreshold marks concepts whose effective mastery needs work.
	WeakThreshold = 0.5

	// StaleDays is the idle period after which a concept is due for review.
	StaleDays = 14
)

// Source tells where a suggestion came from.
type Source string

const (
	SourceQueue    Source = "queue"
	SourceImplicit Source = "implicit"
	SourceBoth     Source = "queue+implicit"
)

// Suggestion is one advisory revisit entry.
type Suggestion struct {
	Concept   string  `json:"concept"`
	Context   string  `json:"context,omitempty"`
	Reason    string  `json:"reason"`
	Source    Source  `json:"source"`
	Score     float64 `json:"score"`
	Effective float64 `json:"effective_mastery"`

	addedAt time.Time
	queued  bool
}

// Scheduler computes reinforcement suggestions. It holds no state.
type Scheduler struct {
	log *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{log: log}
}

// Prioritize returns at most MaxSuggestions concepts to revisit, highest
// score first. It never fails: on any internal error it logs and returns
// an empty list.
func (s *Scheduler) Prioritize(e *store.Enrollment, now time.Time) (out []Suggestion) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("prioritize reinforcement panicked", zap.Any("panic", r))
			out = []Suggestion{}
		}
	}()

	if e == nil {
		return []Suggestion{}
	}

	byKey := map[string]*Suggestion{}

	for _, item := range e.ReinforcementQueue {
		key := mastery.NormalizeKey(item.Concept)
		if key == "" {
			continue
		}
		score := float64(item.Priority.Weight())
		reason := "queued (" + string(item.Priority) + " priority)"
		cur, ok := byKey[key]
		if !ok {
			byKey[key] = &Suggestion{
				Concept:   key,
				Context:   item.Context,
				Reason:    reason,
				Source:    SourceQueue,
				Score:     score,
				Effective: mastery.EffectiveMastery(e.Concepts[key], now),
				addedAt:   item.AddedAt,
				queued:    true,
			}
			continue
		}
		if score > cur.Score {
			cur.Score = score
			cur.Reason = reason
			cur.Context = item.Context
		}
		if item.AddedAt.After(cur.addedAt) {
			cur.addedAt = item.AddedAt
		}
	}

	for _, key := range e.ConceptKeys() {
		c := e.Concepts[key]
		eff := mastery.EffectiveMastery(c, now)
		days := mastery.DaysSince(c.LastSeen, now)
		weak := eff < WeakThreshold
		stale := c.LastSeen != nil && days > StaleDays
		if !weak && !stale {
			continue
		}

		score, reason := implicitScore(eff, days, c.LastSeen == nil, weak, stale)
		cur, ok := byKey[key]
		if !ok {
			byKey[key] = &Suggestion{
				Concept:   key,
				Reason:    reason,
				Source:    SourceImplicit,
				Score:     score,
				Effective: eff,
			}
			continue
		}
		cur.Source = SourceBoth
		cur.Reason = cur.Reason + "; " + reason
		cur.Score = max(cur.Score, score)
	}

	out = make([]Suggestion, 0, len(byKey))
	for _, sg := range byKey {
		out = append(out, *sg)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

// implicitScore is 1 + 2*max(gap, staleness), both in [0,1].
func implicitScore(eff float64, days int, neverSeen, weak, stale bool) (float64, string) {
	gap := max(0, (WeakThreshold-eff)/WeakThreshold)
	staleness := 0.0
	if !neverSeen {
		staleness = min(1, max(0, float64(days-StaleDays)/float64(mastery.DecayDays-StaleDays)))
	}

	var reasons []string
	if weak {
		reasons = append(reasons, "effective mastery "+mastery.FormatPercent(eff))
	}
	if stale {
		reasons = append(reasons, "not practiced in "+strconv.Itoa(days)+" days")
	}
	return 1 + 2*max(gap, staleness), strings.Join(reasons, ", ")
}

func less(a, b Suggestion) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	switch {
	case a.queued && b.queued:
		if !a.addedAt.Equal(b.addedAt) {
			return a.addedAt.After(b.addedAt)
		}
	case !a.queued && !b.queued:
		if a.Effective != b.Effective {
			return a.Effective < b.Effective
		}
	default:
		return a.queued
	}
	return a.Concept < b.Concept
}
