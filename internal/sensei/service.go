// Package sensei runs the conversation loop of a training session: it builds
// the system prompt, asks the provider for a structured turn and feeds the
// requested tool calls through the gateway.
package sensei

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/tools"
)

// ErrNoProvider is returned when no LLM provider is configured.
var ErrNoProvider = errors.New("no llm provider configured")

// Message roles stored on the session log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Config tunes the conversation loop.
type Config struct {
	MaxRounds    int
	MaxTokens    int
	Temperature  float64
	PastProblems int
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{MaxRounds: 5, MaxTokens: 4096, Temperature: 0.7, PastProblems: 20}
}

// TurnResult is the outcome of one student message.
type TurnResult struct {
	Reply   string         `json:"reply"`
	Results []tools.Result `json:"tool_results,omitempty"`
	Rounds  int            `json:"rounds"`
}

// Service drives sensei turns.
type Service struct {
	provider  llm.Provider
	gateway   *tools.Gateway
	repos     store.Repos
	scheduler *spacedrep.Scheduler
	cfg       Config
	log       *zap.Logger

	Now func() time.Time
}

// NewService creates a sensei. provider may be nil, in which case every turn
// fails with ErrNoProvider.
func NewService(provider llm.Provider, gateway *tools.Gateway, repos store.Repos, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.PastProblems <= 0 {
		cfg.PastProblems = def.PastProblems
	}
	return &Service{
		provider:  provider,
		gateway:   gateway,
		repos:     repos,
		scheduler: spacedrep.NewScheduler(log),
		cfg:       cfg,
		log:       log,
		Now:       time.Now,
	}
}

type turnOutput struct {
	Reply     string `json:"reply"`
	ToolCalls []struct {
		Name  string `json:"name"`
		Input string `json:"input"`
	} `json:"tool_calls"`
}

// Turn records the student's message and runs up to MaxRounds provider
// rounds, dispatching tool calls in order, while holding the session lock.
func (s *Service) Turn(ctx context.Context, c tools.Caller, content string) (*TurnResult, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	release, err := s.gateway.BeginTurn(ctx, c)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, e, sk, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.appendMessage(ctx, sess.ID, RoleUser, content); err != nil {
		return nil, err
	}

	now := s.Now()
	past, err := s.repos.Sessions.ListSessions(ctx, e.ID, store.QueryOpts{Limit: s.cfg.PastProblems})
	if err != nil {
		s.log.Warn("list past problems failed", zap.String("enrollment", e.ID), zap.Error(err))
	}
	system := BuildSystemPrompt(PromptInput{
		Skill:        *sk,
		Enrollment:   e,
		SessionType:  sess.Type,
		Suggestions:  s.scheduler.Prioritize(e, now),
		PastProblems: past,
		Now:          now,
	})

	history, err := s.repos.Sessions.Messages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	msgs := toLLMMessages(history)

	ctx = llm.WithPurpose(ctx, llm.PurposeSensei)
	out := &TurnResult{}
	var replies []string
	for round := 1; round <= s.cfg.MaxRounds; round++ {
		out.Rounds = round
		resp, err := s.provider.Generate(ctx, llm.Request{
			System:      system,
			Messages:    msgs,
			Schema:      TurnSchema,
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("sensei round %d: %w", round, err)
		}
		var turn turnOutput
		if err := json.Unmarshal(resp.Content, &turn); err != nil {
			return nil, fmt.Errorf("parse sensei turn: %w", err)
		}

		if turn.Reply != "" {
			replies = append(replies, turn.Reply)
			if err := s.appendMessage(ctx, sess.ID, RoleAssistant, turn.Reply); err != nil {
				return nil, err
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: turn.Reply})
		}
		if len(turn.ToolCalls) == 0 {
			break
		}

		results := make([]tools.Result, 0, len(turn.ToolCalls))
		for _, tc := range turn.ToolCalls {
			results = append(results, s.gateway.Dispatch(ctx, c, tools.Call{Name: tc.Name, Input: json.RawMessage(tc.Input)}))
		}
		out.Results = append(out.Results, results...)

		encoded, err := json.Marshal(results)
		if err != nil {
			return nil, fmt.Errorf("encode tool results: %w", err)
		}
		if err := s.appendMessage(ctx, sess.ID, RoleTool, string(encoded)); err != nil {
			return nil, err
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: toolResultsPrefix + string(encoded)})
	}

	out.Reply = strings.Join(replies, "\n\n")
	s.log.Debug("sensei turn",
		zap.String("session", sess.ID),
		zap.Int("rounds", out.Rounds),
		zap.Int("tool_calls", len(out.Results)))
	return out, nil
}

const toolResultsPrefix = "[tool results]\n"

// toLLMMessages replays the stored log. Tool results go back as user
// messages since providers only know two roles.
func toLLMMessages(history []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case RoleTool:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: toolResultsPrefix + m.Content})
		default:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		}
	}
	return out
}

func (s *Service) load(ctx context.Context, c tools.Caller) (*store.Session, *store.Enrollment, *store.Skill, error) {
	e, err := s.repos.Enrollments.GetByUserSkill(ctx, c.UserID, c.SkillID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load enrollment: %w", err)
	}
	sess, err := s.repos.Sessions.GetSession(ctx, c.SessionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load session: %w", err)
	}
	if sess.EnrollmentID != e.ID || sess.UserID != c.UserID {
		return nil, nil, nil, fmt.Errorf("load session: %w", store.ErrNotFound)
	}
	if sess.Status != store.StatusActive {
		return nil, nil, nil, fmt.Errorf("session is %s: %w", sess.Status, session.ErrInvalidState)
	}
	sk, err := s.repos.Skills.GetSkill(ctx, e.SkillID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load skill: %w", err)
	}
	return sess, e, sk, nil
}

func (s *Service) appendMessage(ctx context.Context, sessionID, role, content string) error {
	err := s.repos.Sessions.AppendMessage(ctx, sessionID, store.Message{
		Role:      role,
		Content:   content,
		CreatedAt: s.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append %s message: %w", role, err)
	}
	return nil
}
