package llm

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config selects and configures the sensei's model provider.
type Config struct {
	// Provider is one of "anthropic", "openai", "gemini", "openrouter" or
	// "mock". Empty means none is configured.
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Timeout bounds one Generate call including its retries.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Referer string
}

// RetryConfig shapes the backoff used by RetryProvider.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// ErrNotConfigured is returned by Validate when no provider was selected.
var ErrNotConfigured = errors.New("no llm provider configured")

// DefaultConfig returns small fast models, three attempts and a 60s
// ceiling per call.
func DefaultConfig() Config {
	return Config{
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "anthropic/claude-haiku-4.5"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2,
		},
		Timeout: 60 * time.Second,
	}
}

// ConfigFromEnv reads DOJO_* variables over the defaults. When
// DOJO_LLM_PROVIDER is unset the first vendor key found wins, checking
// DOJO_<VENDOR>_API_KEY before the vendor's own <VENDOR>_API_KEY.
func ConfigFromEnv() Config {
	return configFrom(os.Getenv)
}

func configFrom(getenv func(string) string) Config {
	cfg := DefaultConfig()
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&cfg.Anthropic.APIKey, "DOJO_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	set(&cfg.Anthropic.Model, "DOJO_ANTHROPIC_MODEL")
	set(&cfg.OpenAI.APIKey, "DOJO_OPENAI_API_KEY", "OPENAI_API_KEY")
	set(&cfg.OpenAI.Model, "DOJO_OPENAI_MODEL")
	set(&cfg.OpenAI.BaseURL, "DOJO_OPENAI_BASE_URL")
	set(&cfg.Gemini.APIKey, "DOJO_GEMINI_API_KEY", "GEMINI_API_KEY")
	set(&cfg.Gemini.Model, "DOJO_GEMINI_MODEL")
	set(&cfg.OpenRouter.APIKey, "DOJO_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	set(&cfg.OpenRouter.Model, "DOJO_OPENROUTER_MODEL")
	set(&cfg.OpenRouter.Referer, "DOJO_OPENROUTER_REFERER")

	if d, err := time.ParseDuration(getenv("DOJO_LLM_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}

	cfg.Provider = getenv("DOJO_LLM_PROVIDER")
	if cfg.Provider == "" {
		switch {
		case cfg.Anthropic.APIKey != "":
			cfg.Provider = "anthropic"
		case cfg.OpenAI.APIKey != "":
			cfg.Provider = "openai"
		case cfg.Gemini.APIKey != "":
			cfg.Provider = "gemini"
		case cfg.OpenRouter.APIKey != "":
			cfg.Provider = "openrouter"
		}
	}
	return cfg
}

// Validate checks that the selected provider has what it needs.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case "":
		return ErrNotConfigured
	case "mock":
		return nil
	case "anthropic":
		key = c.Anthropic.APIKey
	case "openai":
		key = c.OpenAI.APIKey
	case "gemini":
		key = c.Gemini.APIKey
	case "openrouter":
		key = c.OpenRouter.APIKey
	default:
		return fmt.Errorf("unknown llm provider %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("%s provider selected but no API key is set", c.Provider)
	}
	return nil
}
