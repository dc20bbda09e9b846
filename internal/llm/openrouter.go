package llm

import (
	"errors"
	"net/http"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider is an OpenAIProvider aimed at OpenRouter. Models are
// passed through as given, e.g. "anthropic/claude-haiku-4.5".
type OpenRouterProvider struct {
	*OpenAIProvider
}

// NewOpenRouterProvider builds a provider from cfg. Requests carry the
// app attribution headers OpenRouter reads.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	header := http.Header{}
	header.Set("X-Title", "dojo")
	if cfg.Referer != "" {
		header.Set("HTTP-Referer", cfg.Referer)
	}
	return &OpenRouterProvider{OpenAIProvider: newChatCompletions(cfg.APIKey, baseURL, cfg.Model, header)}, nil
}

// headerTransport adds fixed headers to each outgoing request.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, vs := range t.header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(r)
}
