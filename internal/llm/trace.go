package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/abhisek/dojo/internal/llm")

// TracingProvider opens a span around each Generate call. It sits outside
// the retry decorator so one span covers every attempt of a round.
type TracingProvider struct {
	inner Provider
	name  string
}

// WithTracing wraps p. name is the provider name recorded on spans.
func WithTracing(p Provider, name string) *TracingProvider {
	return &TracingProvider{inner: p, name: name}
}

func (t *TracingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", t.name),
		attribute.String("llm.model", t.inner.ModelID()),
		attribute.String("llm.purpose", PurposeFrom(ctx)),
		attribute.Int("llm.messages", len(req.Messages)),
	}
	if req.Schema != nil {
		attrs = append(attrs, attribute.String("llm.schema", req.Schema.Name))
	}
	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(attrs...))
	defer span.End()

	resp, err := t.inner.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("llm.cached_tokens", resp.Usage.CachedTokens),
		attribute.String("llm.stop_reason", string(resp.StopReason)),
	)
	return resp, nil
}

func (t *TracingProvider) ModelID() string {
	return t.inner.ModelID()
}
