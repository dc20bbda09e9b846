package store

import (
	"context"
	"sort"
	"time"

	"github.com/abhisek/dojo/internal/belt"
)

// QueryOpts configures list queries with filtering and pagination.
type QueryOpts struct {
	Limit int       // max results (0 = unlimited)
	From  time.Time // timestamp >= From
	To    time.Time // timestamp <= To
}

// Concept is the stored record for one concept of one enrollment.
// Mastery is the undecayed, as-observed value; read it through
// mastery.EffectiveMastery before making decisions with it.
type Concept struct {
	Mastery       float64    `json:"mastery"`
	ExposureCount int        `json:"exposure_count"`
	SuccessCount  int        `json:"success_count"`
	Streak        int        `json:"streak"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	Contexts      []string   `json:"contexts,omitempty"`
	Observations  []string   `json:"observations,omitempty"`
	BeltLevel     belt.Belt  `json:"belt_level"`
}

// HasContext reports whether ctx is already in the concept's context set.
func (c *Concept) HasContext(ctx string) bool {
	for _, x := range c.Contexts {
		if x == ctx {
			return true
		}
	}
	return false
}

func (c *Concept) clone() *Concept {
	out := *c
	if c.LastSeen != nil {
		t := *c.LastSeen
		out.LastSeen = &t
	}
	out.Contexts = append([]string(nil), c.Contexts...)
	out.Observations = append([]string(nil), c.Observations...)
	return &out
}

// Priority is the urgency tier of a reinforcement queue entry.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Weight orders priorities: high > medium > low. Unknown priorities weigh 0.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ReinforcementItem is an explicit request to revisit a concept.
type ReinforcementItem struct {
	Concept       string    `json:"concept"`
	Context       string    `json:"context,omitempty"`
	Priority      Priority  `json:"priority"`
	Attempts      int       `json:"attempts"`
	SourceSession string    `json:"source_session,omitempty"`
	AddedAt       time.Time `json:"added_at"`
}

// Enrollment is a user's progress document for one skill.
type Enrollment struct {
	ID                  string
	UserID              string
	SkillID             string
	CurrentBelt         belt.Belt
	AssessmentAvailable bool
	Concepts            map[string]*Concept
	ReinforcementQueue  []ReinforcementItem
	// Version increases by one on every write and guards conditional saves.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of e.
func (e *Enrollment) Clone() *Enrollment {
	out := *e
	out.Concepts = make(map[string]*Concept, len(e.Concepts))
	for k, c := range e.Concepts {
		out.Concepts[k] = c.clone()
	}
	out.ReinforcementQueue = append([]ReinforcementItem(nil), e.ReinforcementQueue...)
	return &out
}

// ConceptKeys returns the concept keys in sorted order.
func (e *Enrollment) ConceptKeys() []string {
	keys := make([]string, 0, len(e.Concepts))
	for k := range e.Concepts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BeltHistoryEntry is an immutable audit record of a belt change.
// FromBelt is empty for the initial assignment.
type BeltHistoryEntry struct {
	ID              string
	EnrollmentID    string
	FromBelt        belt.Belt
	ToBelt          belt.Belt
	AchievedAt      time.Time
	SourceSessionID string
	Reason          string
}

// SessionType distinguishes regular practice from belt assessments.
type SessionType string

const (
	SessionTraining   SessionType = "training"
	SessionAssessment SessionType = "assessment"
	SessionOnboarding SessionType = "onboarding"
	SessionKata       SessionType = "kata"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	switch t {
	case SessionTraining, SessionAssessment, SessionOnboarding, SessionKata:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// Evaluation is the sensei's verdict recorded when a session completes.
type Evaluation struct {
	Correctness string `json:"correctness,omitempty"`
	Quality     string `json:"quality,omitempty"`
}

// Problem is the exercise currently presented in a session.
type Problem struct {
	Prompt           string    `json:"prompt"`
	ConceptsTargeted []string  `json:"concepts_targeted"`
	BeltLevel        belt.Belt `json:"belt_level"`
	StarterCode      string    `json:"starter_code,omitempty"`
	Language         string    `json:"language,omitempty"`
}

// Observation is a note the sensei recorded during a session.
type Observation struct {
	Type      string    `json:"type"`
	Concept   string    `json:"concept"`
	Note      string    `json:"note"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one training interaction. The engine appends facts to it but
// does not own its lifecycle.
type Session struct {
	ID             string
	EnrollmentID   string
	UserID         string
	Type           SessionType
	Status         SessionStatus
	Evaluation     Evaluation
	Notes          string
	Problem        Problem
	Observations   []Observation
	MasteryUpdates map[string]string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Message is one line of a session's conversation log.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Skill is a catalog entry shared by every enrollment of the same skill.
type Skill struct {
	ID              string
	Name            string
	TrainingContext string
}

// Activity is a user-facing feed event emitted as a side effect.
type Activity struct {
	ID        string
	UserID    string
	Type      string
	DedupKey  string
	Data      map[string]any
	CreatedAt time.Time
}

// UserStats tracks a user's practice streak across all skills.
type UserStats struct {
	UserID        string
	CurrentStreak int
	LongestStreak int
	TotalSessions int
	LastSession   *time.Time
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMEventRecord is a stored LLM request event.
type LLMEventRecord struct {
	ID        int
	Timestamp time.Time
	LLMRequestEventData
}

// EnrollmentRepo persists enrollments with optimistic concurrency.
type EnrollmentRepo interface {
	// Create inserts a new enrollment. Returns ErrAlreadyExists if the user
	// is already enrolled in the skill.
	Create(ctx context.Context, e *Enrollment) error

	// Get returns the enrollment or ErrNotFound.
	Get(ctx context.Context, id string) (*Enrollment, error)

	// GetByUserSkill returns the user's enrollment in a skill or ErrNotFound.
	GetByUserSkill(ctx context.Context, userID, skillID string) (*Enrollment, error)

	// ListByUser returns all enrollments of a user.
	ListByUser(ctx context.Context, userID string) ([]*Enrollment, error)

	// Save writes every mutable field of e if and only if the stored version
	// still equals e.Version. On success e.Version is incremented. Returns
	// ErrConflict when the stored version moved on.
	Save(ctx context.Context, e *Enrollment) error

	// ForceBelt sets the current belt without a version precondition, still
	// bumping the version so concurrent conditional writers notice.
	ForceBelt(ctx context.Context, id string, b belt.Belt) error

	// Delete removes the enrollment with its history and sessions.
	Delete(ctx context.Context, id string) error
}

// HistoryRepo is the append-only belt audit trail.
type HistoryRepo interface {
	AppendHistory(ctx context.Context, entry *BeltHistoryEntry) error

	// DeleteHistory removes a single entry. Only used to compensate a
	// promotion whose belt write lost a version race.
	DeleteHistory(ctx context.Context, id string) error

	// ListHistory returns entries of an enrollment oldest first.
	ListHistory(ctx context.Context, enrollmentID string) ([]BeltHistoryEntry, error)

	// HistoryBySession returns the promotion recorded for a session, or nil.
	HistoryBySession(ctx context.Context, enrollmentID, sessionID string) (*BeltHistoryEntry, error)
}

// SessionRepo persists sessions and their append-only logs.
type SessionRepo interface {
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns the session with observations and mastery updates.
	GetSession(ctx context.Context, id string) (*Session, error)

	ListSessions(ctx context.Context, enrollmentID string, opts QueryOpts) ([]*Session, error)

	CountCompleted(ctx context.Context, enrollmentID string) (int, error)

	// CompleteSession flips an active session to completed and records the
	// evaluation in one conditional write. Returns ErrConflict if the
	// session is not active.
	CompleteSession(ctx context.Context, id string, eval Evaluation, notes string, at time.Time) error

	// SetStatus moves a session from one status to another. Returns
	// ErrConflict if the session is not in the from status.
	SetStatus(ctx context.Context, id string, from, to SessionStatus) error

	SetProblem(ctx context.Context, id string, p Problem) error
	AppendObservation(ctx context.Context, id string, o Observation) error
	SetMasteryUpdate(ctx context.Context, id, concept, value string) error
	AppendMessage(ctx context.Context, id string, m Message) error
	Messages(ctx context.Context, id string) ([]Message, error)
}

// SkillRepo manages the skill catalog.
type SkillRepo interface {
	// EnsureSkill inserts the skill if no entry with its ID exists.
	EnsureSkill(ctx context.Context, s Skill) error
	GetSkill(ctx context.Context, id string) (*Skill, error)
	SetTrainingContext(ctx context.Context, id, text string) error
}

// ActivityRepo stores feed activities and per-user streak stats.
type ActivityRepo interface {
	AppendActivity(ctx context.Context, a *Activity) error

	// ActivityExists reports whether an activity with the dedup key exists.
	ActivityExists(ctx context.Context, userID, typ, dedupKey string) (bool, error)

	ListActivities(ctx context.Context, userID string, opts QueryOpts) ([]Activity, error)

	// UserStats returns the user's stats, zero-valued if none are stored.
	UserStats(ctx context.Context, userID string) (*UserStats, error)
	SaveUserStats(ctx context.Context, s *UserStats) error
}

// EventRepo provides append access to LLM request events.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMEventRecord, error)
	// GetLLMEvent returns the event or nil if it does not exist.
	GetLLMEvent(ctx context.Context, id int) (*LLMEventRecord, error)
}

// Repos bundles every repository of one backing store.
type Repos struct {
	Enrollments EnrollmentRepo
	History     HistoryRepo
	Sessions    SessionRepo
	Skills      SkillRepo
	Activities  ActivityRepo
	Events      EventRepo
}
