package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/store"
)

type updateMasteryInput struct {
	Concept   string   `json:"concept"`
	Success   bool     `json:"success"`
	Context   string   `json:"context"`
	BeltLevel string   `json:"belt_level"`
	Mastery   *float64 `json:"mastery"`
}

func (g *Gateway) updateMastery(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	var in updateMasteryInput
	if err := decode(UpdateMastery, raw, &in); err != nil {
		return nil, err
	}
	if _, err := requireConcept(UpdateMastery, in.Concept); err != nil {
		return nil, err
	}

	up, err := g.mastery.UpdateMastery(ctx, t.enrollment.ID, in.Concept, mastery.Exposure{
		Success:   in.Success,
		Context:   in.Context,
		BeltLevel: belt.Belt(in.BeltLevel),
		Mastery:   in.Mastery,
	})
	if err != nil {
		return nil, err
	}

	// The concept write is done; a lost log line must not invite a retry
	// that would count the exposure twice.
	pct := mastery.FormatPercent(up.Concept.Mastery)
	if err := g.repos.Sessions.SetMasteryUpdate(ctx, t.session.ID, up.Key, pct); err != nil {
		g.log.Warn("record mastery update on session failed",
			zap.String("session", t.session.ID),
			zap.String("concept", up.Key),
			zap.Error(err))
	}

	return map[string]any{
		"concept":   up.Key,
		"mastery":   up.Concept.Mastery,
		"exposures": up.Concept.ExposureCount,
		"successes": up.Concept.SuccessCount,
		"streak":    up.Concept.Streak,
	}, nil
}

type queueReinforcementInput struct {
	Concept  string `json:"concept"`
	Context  string `json:"context"`
	Priority string `json:"priority"`
}

func (g *Gateway) queueReinforcement(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	var in queueReinforcementInput
	if err := decode(QueueReinforcement, raw, &in); err != nil {
		return nil, err
	}
	key, err := requireConcept(QueueReinforcement, in.Concept)
	if err != nil {
		return nil, err
	}

	err = g.mastery.QueueReinforcement(ctx, t.enrollment.ID, store.ReinforcementItem{
		Concept:       key,
		Context:       in.Context,
		Priority:      store.Priority(in.Priority),
		SourceSession: t.session.ID,
		AddedAt:       g.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"concept": key, "priority": in.Priority}, nil
}

type completeSessionInput struct {
	Correctness string `json:"correctness"`
	Quality     string `json:"quality"`
	Notes       string `json:"notes"`
}

func (g *Gateway) completeSession(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	var in completeSessionInput
	if err := decode(CompleteSession, raw, &in); err != nil {
		return nil, err
	}

	// A pass only counts while the assessment flag is set. A session
	// reactivated after a failed assessment stays open so the sensei can
	// close it out another way.
	if t.session.Type == store.SessionAssessment && in.Correctness == "pass" && !t.enrollment.AssessmentAvailable {
		if _, ok := belt.Next(t.enrollment.CurrentBelt); ok {
			return nil, fmt.Errorf("%s: %w", CompleteSession, assessment.ErrNotEligible)
		}
	}

	now := g.now()
	eval := store.Evaluation{Correctness: in.Correctness, Quality: in.Quality}
	if err := session.Complete(ctx, g.repos.Sessions, t.session.ID, eval, in.Notes, now); err != nil {
		return nil, err
	}
	g.emitter.Emit(activity.Practice(t.caller.UserID, now))

	data := map[string]any{
		"status":      store.StatusCompleted,
		"correctness": in.Correctness,
		"quality":     in.Quality,
	}

	if t.session.Type != store.SessionAssessment {
		report, err := g.assessment.CheckEligibility(ctx, t.enrollment.ID)
		if err != nil {
			// The flag is recomputed on the next completion or progress check.
			g.log.Warn("eligibility check after completion failed",
				zap.String("enrollment", t.enrollment.ID),
				zap.Error(err))
			return data, nil
		}
		data["eligibility"] = report
		return data, nil
	}

	if in.Correctness != "pass" {
		if err := g.assessment.Fail(ctx, t.enrollment.ID); err != nil {
			return data, err
		}
		data["assessment"] = "failed"
		return data, nil
	}

	promo, err := g.promote(ctx, t)
	if err != nil {
		return data, err
	}
	data["assessment"] = "passed"
	data["promotion"] = promo
	return data, nil
}

// promote retries an assessment promotion that lost a version race. Promote
// is idempotent per source session so a retry cannot promote twice.
func (g *Gateway) promote(ctx context.Context, t *turn) (*assessment.Promotion, error) {
	var err error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		var p *assessment.Promotion
		p, err = g.assessment.Promote(ctx, t.enrollment.ID, t.session.ID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, assessment.ErrConcurrentModification) {
			return nil, err
		}
		g.log.Debug("promotion lost version race",
			zap.String("enrollment", t.enrollment.ID),
			zap.Int("attempt", attempt))
	}
	return nil, err
}

type setBeltInput struct {
	Belt   string `json:"belt"`
	Reason string `json:"reason"`
}

func (g *Gateway) setBelt(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	if err := requireOnboarding(SetBelt, t.session); err != nil {
		return nil, err
	}
	var in setBeltInput
	if err := decode(SetBelt, raw, &in); err != nil {
		return nil, err
	}
	b, err := belt.Parse(in.Belt)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", SetBelt, err, ErrInvalidInput)
	}
	p, err := g.assessment.SetBelt(ctx, t.enrollment.ID, b, in.Reason, t.session.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type recordObservationInput struct {
	Type     string `json:"type"`
	Concept  string `json:"concept"`
	Note     string `json:"note"`
	Severity string `json:"severity"`
}

func (g *Gateway) recordObservation(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	var in recordObservationInput
	if err := decode(RecordObservation, raw, &in); err != nil {
		return nil, err
	}
	key, err := requireConcept(RecordObservation, in.Concept)
	if err != nil {
		return nil, err
	}

	err = g.repos.Sessions.AppendObservation(ctx, t.session.ID, store.Observation{
		Type:      in.Type,
		Concept:   key,
		Note:      in.Note,
		Severity:  in.Severity,
		CreatedAt: g.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("append observation: %w", err)
	}

	// The session log is the record of the observation; the concept tally is
	// a lighter summary and may be skipped.
	if err := g.mastery.TallyObservation(ctx, t.enrollment.ID, key, in.Severity); err != nil {
		g.log.Warn("tally observation failed",
			zap.String("enrollment", t.enrollment.ID),
			zap.String("concept", key),
			zap.Error(err))
	}
	return map[string]any{"type": in.Type, "concept": key}, nil
}

type setTrainingContextInput struct {
	TrainingContext string `json:"training_context"`
}

func (g *Gateway) setTrainingContext(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	if err := requireOnboarding(SetTrainingContext, t.session); err != nil {
		return nil, err
	}
	var in setTrainingContextInput
	if err := decode(SetTrainingContext, raw, &in); err != nil {
		return nil, err
	}
	if err := g.repos.Skills.SetTrainingContext(ctx, t.enrollment.SkillID, in.TrainingContext); err != nil {
		return nil, fmt.Errorf("set training context: %w", err)
	}
	return map[string]any{"skill": t.enrollment.SkillID}, nil
}

type presentProblemInput struct {
	Prompt           string   `json:"prompt"`
	ConceptsTargeted []string `json:"concepts_targeted"`
	BeltLevel        string   `json:"belt_level"`
	StarterCode      string   `json:"starter_code"`
	Language         string   `json:"language"`
}

func (g *Gateway) presentProblem(ctx context.Context, t *turn, raw json.RawMessage) (any, error) {
	var in presentProblemInput
	if err := decode(PresentProblem, raw, &in); err != nil {
		return nil, err
	}
	concepts := make([]string, 0, len(in.ConceptsTargeted))
	for _, c := range in.ConceptsTargeted {
		if key := mastery.NormalizeKey(c); key != "" {
			concepts = append(concepts, key)
		}
	}

	err := g.repos.Sessions.SetProblem(ctx, t.session.ID, store.Problem{
		Prompt:           in.Prompt,
		ConceptsTargeted: concepts,
		BeltLevel:        belt.Belt(in.BeltLevel),
		StarterCode:      in.StarterCode,
		Language:         in.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("set problem: %w", err)
	}
	return map[string]any{
		"concepts_targeted": concepts,
		"starter_code":      in.StarterCode,
		"language":          in.Language,
	}, nil
}
