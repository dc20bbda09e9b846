package sensei

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/store"
)

const (
	analysisSessions  = 5
	analysisMaxTokens = 1024
)

// Analysis is the sensei's read on whether a student is ready for the next
// belt. Eligible and Details come from the thresholds; ReadyForPromotion is
// the model's judgement and never changes the belt.
type Analysis struct {
	CurrentBelt       belt.Belt       `json:"current_belt"`
	NextBelt          belt.Belt       `json:"next_belt,omitempty"`
	Eligible          bool            `json:"eligible"`
	BeltOrder         []string        `json:"belt_order"`
	CurrentBeltIndex  int             `json:"current_belt_index"`
	Details           mastery.Details `json:"details"`
	Analysis          string          `json:"analysis"`
	ReadyForPromotion bool            `json:"ready_for_promotion"`
}

// AnalysisSchema is the structured output of a belt-readiness analysis.
var AnalysisSchema = &llm.Schema{
	Name:        "belt-analysis",
	Description: "A coach's assessment of the student's readiness for the next belt",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"analysis": map[string]any{
				"type":        "string",
				"description": "Markdown, 3-5 paragraphs: strengths, gaps, next steps and assessment readiness",
			},
			"ready_for_promotion": map[string]any{
				"type": "boolean",
			},
		},
		"required":             []any{"analysis", "ready_for_promotion"},
		"additionalProperties": false,
	},
}

// Analyze asks the provider to judge the enrollment's belt readiness from
// its concepts and most recent completed sessions. Nothing is written.
func (s *Service) Analyze(ctx context.Context, userID, skillID string) (*Analysis, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	e, err := s.repos.Enrollments.GetByUserSkill(ctx, userID, skillID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	sk, err := s.repos.Skills.GetSkill(ctx, e.SkillID)
	if err != nil {
		return nil, fmt.Errorf("load skill: %w", err)
	}
	completed, err := s.repos.Sessions.CountCompleted(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	sessions, err := s.repos.Sessions.ListSessions(ctx, e.ID, store.QueryOpts{Limit: s.cfg.PastProblems})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.Now()
	report := mastery.Evaluate(e, completed, now)
	prompt := analysisPrompt(sk.Name, e, report, completed, recentCompleted(sessions, analysisSessions), now)

	resp, err := s.provider.Generate(llm.WithPurpose(ctx, llm.PurposeAnalysis), llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Schema:    AnalysisSchema,
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("belt analysis: %w", err)
	}
	var out struct {
		Analysis          string `json:"analysis"`
		ReadyForPromotion bool   `json:"ready_for_promotion"`
	}
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("parse belt analysis: %w", err)
	}

	s.log.Debug("belt analysis",
		zap.String("enrollment", e.ID),
		zap.Bool("eligible", report.Eligible),
		zap.Bool("ready", out.ReadyForPromotion))
	return &Analysis{
		CurrentBelt:       e.CurrentBelt,
		NextBelt:          report.NextBelt,
		Eligible:          report.Eligible,
		BeltOrder:         belt.Names(),
		CurrentBeltIndex:  belt.Rank(e.CurrentBelt),
		Details:           report.Details,
		Analysis:          out.Analysis,
		ReadyForPromotion: out.ReadyForPromotion,
	}, nil
}

func recentCompleted(sessions []*store.Session, n int) []*store.Session {
	var out []*store.Session
	for _, s := range sessions {
		if s.Status != store.StatusCompleted {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}

func analysisPrompt(skill string, e *store.Enrollment, r mastery.Report, completed int, recent []*store.Session, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a training coach analyzing a student's progress in %s.\n\n", skill)
	fmt.Fprintf(&b, "Current belt: %s\n", e.CurrentBelt)
	next := "max belt reached"
	if r.NextBelt != "" {
		next = string(r.NextBelt)
	}
	fmt.Fprintf(&b, "Next belt: %s\n", next)
	fmt.Fprintf(&b, "Completed sessions: %d\n", completed)
	avail := "No"
	if e.AssessmentAvailable {
		avail = "Yes"
	}
	fmt.Fprintf(&b, "Assessment available: %s\n", avail)

	b.WriteString("\nConcept mastery:\n")
	views := mastery.Snapshot(e, now)
	if len(views) == 0 {
		b.WriteString("No concepts tracked yet\n")
	}
	for _, v := range views {
		fmt.Fprintf(&b, "- %s: %s (streak: %d, exposures: %d, belt level: %s)\n",
			v.Key, mastery.FormatPercent(v.Effective), v.Record.Streak, v.Record.ExposureCount, v.Record.BeltLevel)
	}

	b.WriteString("\nRecent sessions:\n")
	if len(recent) == 0 {
		b.WriteString("No completed sessions yet\n")
	}
	for _, s := range recent {
		fmt.Fprintf(&b, "- %s: %s, %s/%s (%d observations)\n",
			s.CreatedAt.Format(time.DateOnly), s.Type, s.Evaluation.Correctness, s.Evaluation.Quality, len(s.Observations))
	}

	details, _ := json.MarshalIndent(r.Details, "", "  ")
	fmt.Fprintf(&b, "\nBelt advancement thresholds, for reference only:\n%s\n\n", details)
	b.WriteString(`Write "analysis" as encouraging but honest markdown covering strengths, areas for improvement, recommended next steps and assessment readiness. ` +
		`Set "ready_for_promotion" to true only if the student has shown enough mastery, consistency and breadth to earn the next belt now. ` +
		`Judge the whole picture rather than checking thresholds mechanically; if there are gaps, answer false even when the numbers look fine.`)
	return b.String()
}
