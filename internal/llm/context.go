package llm

import "context"

// Purposes label what a request was for in events, metrics and spans.
const (
	PurposeSensei   = "sensei"
	PurposeAnalysis = "belt_analysis"
	PurposeUnknown  = "unknown"
)

type purposeKey struct{}

// WithPurpose tags ctx with the purpose recorded for requests made under it.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the purpose set by WithPurpose, or PurposeUnknown.
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey{}).(string); ok && v != "" {
		return v
	}
	return PurposeUnknown
}
