package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatCapture struct {
	body   map[string]any
	header http.Header
}

// chatServer is a fake chat completions endpoint. It returns the base URL
// to configure providers with and a channel of captured requests.
func chatServer(t *testing.T, handler http.HandlerFunc) (string, <-chan chatCapture) {
	t.Helper()
	captured := make(chan chatCapture, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		captured <- chatCapture{body: body, header: r.Header.Clone()}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1", captured
}

func chatCompletion(content, finish, refusal string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := map[string]any{"role": "assistant", "content": content}
		if refusal != "" {
			msg["refusal"] = refusal
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1760000000,
			"model":   "gpt-4o-mini-2024-07-18",
			"choices": []map[string]any{{"index": 0, "message": msg, "finish_reason": finish}},
			"usage": map[string]any{
				"prompt_tokens":         80,
				"completion_tokens":     20,
				"total_tokens":          100,
				"prompt_tokens_details": map[string]any{"cached_tokens": 64},
			},
		})
	}
}

func chatFailure(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "error", "message": http.StatusText(status)},
		})
	}
}

func newOpenAIAt(t *testing.T, baseURL string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: baseURL})
	require.NoError(t, err)
	return p
}

func TestOpenAIProvider_SenseiTurn(t *testing.T) {
	url, captured := chatServer(t, chatCompletion(goodTurn, "stop", ""))
	p := newOpenAIAt(t, url)

	resp, err := p.Generate(context.Background(), senseiRequest())
	require.NoError(t, err)
	assert.JSONEq(t, goodTurn, string(resp.Content))
	assert.Equal(t, StopEnd, resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 80, OutputTokens: 20, CachedTokens: 64, TotalTokens: 100}, resp.Usage)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)

	req := <-captured
	msgs, _ := req.body["messages"].([]any)
	require.Len(t, msgs, 5, "system plus every stored message")
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])

	format, _ := req.body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	schema, _ := format["json_schema"].(map[string]any)
	assert.Equal(t, "test-turn", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestOpenAIProvider_StopReasons(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{"length", chatCompletion(`{"reply":"Let`, "length", ""), func(t *testing.T, err error) {
			var truncated *ErrMaxTokensExceeded
			assert.ErrorAs(t, err, &truncated)
		}},
		{"refusal", chatCompletion("", "stop", "I can't help with that."), func(t *testing.T, err error) {
			var invalid *ErrInvalidResponse
			assert.ErrorAs(t, err, &invalid)
		}},
		{"content filter", chatCompletion("", "content_filter", ""), func(t *testing.T, err error) {
			var invalid *ErrInvalidResponse
			assert.ErrorAs(t, err, &invalid)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, _ := chatServer(t, tt.handler)
			_, err := newOpenAIAt(t, url).Generate(context.Background(), senseiRequest())
			tt.check(t, err)
		})
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		status int
		target any
	}{
		{http.StatusTooManyRequests, new(*ErrRateLimit)},
		{http.StatusBadRequest, new(*ErrRejected)},
		{http.StatusInternalServerError, new(*ErrProviderUnavailable)},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			url, _ := chatServer(t, chatFailure(tt.status))
			_, err := newOpenAIAt(t, url).Generate(context.Background(), senseiRequest())
			assert.ErrorAs(t, err, tt.target)
		})
	}
}

func TestNewOpenAIProvider(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "gpt-4o"})
	assert.Error(t, err)

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4.1-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", p.ModelID())
}
