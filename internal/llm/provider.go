package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Provider is a chat model that answers with structured JSON.
type Provider interface {
	// Generate runs one completion. When req.Schema is set the returned
	// Content has already been validated against it.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model the provider sends requests to.
	ModelID() string
}

// Request is a single completion call.
type Request struct {
	System   string
	Messages []Message

	// Schema asks the provider for native structured output. Nil means
	// free text wrapped as json.RawMessage.
	Schema *Schema

	MaxTokens int

	// Temperature in [0, 1]. Zero leaves the provider default.
	Temperature float64
}

// Message is one entry of the conversation replayed to the model.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role. Tool results are sent as RoleUser.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema names a JSON Schema the response must satisfy.
type Schema struct {
	// Name is kebab-case, e.g. "sensei-turn". It also keys the compiled
	// schema cache, so two schemas must not share a name.
	Name        string
	Description string
	Definition  map[string]any
}

// StopReason is the normalized reason generation ended.
type StopReason string

const (
	StopEnd       StopReason = "end"
	StopMaxTokens StopReason = "max_tokens"
	StopRefused   StopReason = "refused"
)

// Response is the model output for one Request.
type Response struct {
	Content    json.RawMessage
	Usage      Usage
	Model      string
	StopReason StopReason
}

// Usage is token accounting for one call. CachedTokens is the part of
// InputTokens served from the provider's prompt cache.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	TotalTokens  int
}

func newUsage(in, out, cached int) Usage {
	return Usage{InputTokens: in, OutputTokens: out, CachedTokens: cached, TotalTokens: in + out}
}

// collapseTurns merges adjacent messages from the same role. A stored
// session replays tool results as user messages, so two user entries can
// sit next to each other, which strictly alternating APIs reject.
func collapseTurns(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = strings.Join([]string{out[n-1].Content, m.Content}, "\n\n")
			continue
		}
		out = append(out, m)
	}
	return out
}

// checkOutput rejects truncated or refused structured output before it is
// validated against the request schema.
func checkOutput(req Request, content json.RawMessage, stop StopReason) error {
	if req.Schema == nil {
		return nil
	}
	switch stop {
	case StopMaxTokens:
		return &ErrMaxTokensExceeded{Content: content}
	case StopRefused:
		return &ErrInvalidResponse{Content: content, Err: errors.New("model refused to answer")}
	}
	return validateResponse(req.Schema, content)
}

// resolveModel maps a friendly name to a provider model ID. Unknown names
// pass through so full model IDs work too.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
