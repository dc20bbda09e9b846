// Package activity delivers user-facing feed events as best-effort side
// effects. Callers hand events to a Dispatcher and never observe failures.
package activity

import "time"

// Type identifies an activity kind.
type Type string

const (
	TypeSkillStarted     Type = "skill_started"
	TypeBeltPromotion    Type = "belt_promotion"
	TypeAssessmentPassed Type = "assessment_passed"
	TypeStreakMilestone  Type = "streak_milestone"

	// TypePractice is an internal trigger: it updates the user's practice
	// streak and may produce a TypeStreakMilestone event. It is never stored.
	TypePractice Type = "practice"
)

// Event is a single activity handed to the dispatcher.
type Event struct {
	Type   Type           `json:"type"`
	UserID string         `json:"user_id"`
	Data   map[string]any `json:"data,omitempty"`
	// DedupKey, when set, suppresses the event if one with the same user,
	// type and key was already stored.
	DedupKey string    `json:"dedup_key,omitempty"`
	At       time.Time `json:"at"`
}

// Emitter accepts events without blocking.
type Emitter interface {
	Emit(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// SkillStarted builds the event for a new enrollment.
func SkillStarted(userID, skillID, skillName string) Event {
	return Event{Type: TypeSkillStarted, UserID: userID, Data: map[string]any{
		"skill_name": skillName,
		"skill_slug": skillID,
	}}
}

// BeltPromotion builds the event for a belt change.
func BeltPromotion(userID, skillID, skillName, from, to string) Event {
	return Event{Type: TypeBeltPromotion, UserID: userID, Data: map[string]any{
		"skill_name": skillName,
		"skill_slug": skillID,
		"from_belt":  from,
		"to_belt":    to,
	}}
}

// AssessmentPassed builds the event for a passed belt assessment.
func AssessmentPassed(userID, skillID, skillName, belt string) Event {
	return Event{Type: TypeAssessmentPassed, UserID: userID, Data: map[string]any{
		"skill_name": skillName,
		"skill_slug": skillID,
		"belt":       belt,
	}}
}

// Practice builds the streak trigger for a completed session.
func Practice(userID string, at time.Time) Event {
	return Event{Type: TypePractice, UserID: userID, At: at}
}
