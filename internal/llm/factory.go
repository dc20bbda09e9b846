package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/store"
)

// Deps are the collaborators shared by the provider decorators. All are
// optional.
type Deps struct {
	Events  store.EventRepo
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewProvider validates cfg and builds the configured provider wrapped as
// tracing, timeout, retry, then logging around the SDK client. Logging is
// innermost so every attempt is recorded as its own event.
func NewProvider(ctx context.Context, cfg Config, deps Deps) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		base = NewMockProvider()
	}
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", cfg.Provider, err)
	}

	var p Provider = WithLogging(base, cfg.Provider, deps.Events, deps.Metrics, deps.Logger)
	p = WithRetry(p, cfg.Retry, deps.Logger)
	if cfg.Timeout > 0 {
		p = &deadlineProvider{inner: p, timeout: cfg.Timeout}
	}
	return WithTracing(p, cfg.Provider), nil
}

type deadlineProvider struct {
	inner   Provider
	timeout time.Duration
}

func (d *deadlineProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.inner.Generate(ctx, req)
}

func (d *deadlineProvider) ModelID() string { return d.inner.ModelID() }
