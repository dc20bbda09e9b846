package sensei

import (
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/store"
)

// maxPromptLen truncates past problem prompts in the system prompt.
const maxPromptLen = 150

const protocol = `You are a training sensei in a skill dojo.

Mastery is consistent, fluent application across varied contexts over time. A concept is not learned because it was right once. Skills decay without practice.

Belts: White, Yellow, Orange, Green, Blue, Purple, Brown, Black.
Belts represent sustained mastery and advancement requires consistency over several sessions.

Never hand the student a corrected solution after a failed attempt. Point at what is wrong, hint, and let them retry. Reveal the answer only if they give up.`

// PromptInput is everything the system prompt is built from.
type PromptInput struct {
	Skill        store.Skill
	Enrollment   *store.Enrollment
	SessionType  store.SessionType
	Suggestions  []spacedrep.Suggestion
	PastProblems []*store.Session
	Now          time.Time
}

// BuildSystemPrompt assembles the layered system prompt for a session turn.
func BuildSystemPrompt(in PromptInput) string {
	parts := []string{
		protocol,
		skillContext(in.Skill),
		currentState(in),
		pastProblems(in.PastProblems),
		sessionInstructions(in.SessionType, in.Enrollment),
		outputFormat,
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func skillContext(sk store.Skill) string {
	if sk.TrainingContext == "" {
		return fmt.Sprintf("## Skill: %s\n\nNo training context has been established yet. Create one during onboarding with set_training_context.", sk.Name)
	}
	return fmt.Sprintf("## Skill: %s\n\n%s", sk.Name, sk.TrainingContext)
}

func currentState(in PromptInput) string {
	e := in.Enrollment
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Current Student State\n")
	fmt.Fprintf(&b, "- Current Belt: %s\n", e.CurrentBelt)
	avail := "No"
	if e.AssessmentAvailable {
		avail = "Yes"
	}
	fmt.Fprintf(&b, "- Assessment Available: %s\n", avail)

	views := mastery.Snapshot(e, in.Now)
	if len(views) > 0 {
		fmt.Fprintf(&b, "- Tracked Concepts: %d\n", len(views))
		groups := mastery.Group(views)
		for _, st := range []mastery.Strength{mastery.StrengthStrong, mastery.StrengthDeveloping, mastery.StrengthWeak} {
			if len(groups[st]) == 0 {
				continue
			}
			labels := make([]string, len(groups[st]))
			for i, v := range groups[st] {
				labels[i] = conceptLabel(v, in.Now)
			}
			fmt.Fprintf(&b, "- %s: %s\n", strings.ToUpper(string(st[:1]))+string(st[1:]), strings.Join(labels, ", "))
		}
	}

	if len(e.ReinforcementQueue) > 0 {
		items := make([]string, len(e.ReinforcementQueue))
		for i, r := range e.ReinforcementQueue {
			items[i] = fmt.Sprintf("%s (%s)", r.Concept, r.Priority)
		}
		fmt.Fprintf(&b, "- Reinforcement Queue: %s\n", strings.Join(items, ", "))
	}

	if len(in.Suggestions) > 0 {
		b.WriteString("\n### Suggested Focus for This Session\n")
		for _, s := range in.Suggestions {
			fmt.Fprintf(&b, "- %s: %s\n", s.Concept, s.Reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func conceptLabel(v mastery.ConceptView, now time.Time) string {
	last := "never"
	if v.Record.LastSeen != nil {
		last = fmt.Sprintf("%dd ago", mastery.DaysSince(v.Record.LastSeen, now))
	}
	label := fmt.Sprintf("%s (%s, exp:%d, streak:%d, last:%s", v.Key, mastery.FormatPercent(v.Effective),
		v.Record.ExposureCount, v.Record.Streak, last)
	if n := len(v.Record.Observations); n > 0 {
		label += fmt.Sprintf(", obs:%d", n)
	}
	return label + ")"
}

func pastProblems(sessions []*store.Session) string {
	var lines []string
	for _, s := range sessions {
		if s.Problem.Prompt == "" || s.Status == store.StatusAbandoned {
			continue
		}
		prompt := s.Problem.Prompt
		if len(prompt) > maxPromptLen {
			prompt = prompt[:maxPromptLen] + "..."
		}
		result := s.Evaluation.Correctness
		if result == "" {
			result = "in-progress"
		}
		concepts := strings.Join(s.Problem.ConceptsTargeted, ", ")
		if concepts == "" {
			concepts = "unspecified"
		}
		lines = append(lines, fmt.Sprintf("- [%s] (%s) [%s]: %s", s.CreatedAt.Format(time.DateOnly), result, concepts, prompt))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Past Problems (do not repeat)\n" + strings.Join(lines, "\n")
}

func sessionInstructions(typ store.SessionType, e *store.Enrollment) string {
	switch typ {
	case store.SessionOnboarding:
		return `## Session Type: Onboarding

Present 3-5 graduated challenges and observe the student's level instead of asking for it. Record each challenge with present_problem, then record_observation and update_mastery after every answer. Call set_belt before announcing a belt, save the skill's training context with set_training_context, and finish with complete_session.`
	case store.SessionAssessment:
		current := belt.White
		if e != nil {
			current = e.CurrentBelt
		}
		return fmt.Sprintf(`## Session Type: Belt Assessment

Current belt: %s. Present 3-5 problems testing breadth and depth of this belt's concepts. Give no hints. Use the observation and mastery tools for each problem, then call complete_session with an honest evaluation and summarize the result, strengths, weaknesses and next steps.`, current)
	case store.SessionKata:
		return `## Session Type: Kata

Present 1-2 short problems targeting decayed or weak concepts, update mastery, and finish with complete_session.`
	default:
		return `## Session Type: Training

Check in briefly, then present one fresh problem aimed at the suggested focus concepts and record it with present_problem. After the student submits, record observations, update mastery for each concept exercised, queue reinforcement for weak areas, and call complete_session once they solve it or give up.`
	}
}

const outputFormat = `## Output Format

Respond with a JSON object: "reply" is the message shown to the student and "tool_calls" lists the tools to run, each with a "name" and an "input" holding the tool's arguments as a JSON-encoded object string. Tool results are returned to you in the next message; leave "tool_calls" empty when you are done.`
