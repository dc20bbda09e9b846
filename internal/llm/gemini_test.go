package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiSchema_SenseiTurn(t *testing.T) {
	s := geminiSchema(turnSchema().Definition)

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.ElementsMatch(t, []string{"reply", "tool_calls"}, s.Required)
	require.Contains(t, s.Properties, "tool_calls")

	calls := s.Properties["tool_calls"]
	assert.Equal(t, genai.TypeArray, calls.Type)
	require.NotNil(t, calls.Items)
	assert.Equal(t, genai.TypeObject, calls.Items.Type)
	assert.Equal(t, []string{"update_mastery", "record_attempt"}, calls.Items.Properties["name"].Enum)
	assert.Equal(t, genai.TypeString, calls.Items.Properties["input"].Type)
}

func TestGeminiSchema_Types(t *testing.T) {
	s := geminiSchema(map[string]any{
		"type":        "object",
		"description": "progress",
		"properties": map[string]any{
			"strength": map[string]any{"type": "number"},
			"sessions": map[string]any{"type": "integer"},
			"passed":   map[string]any{"type": "boolean"},
			"odd":      map[string]any{"type": "null"},
		},
		"required": []string{"strength"},
	})
	assert.Equal(t, "progress", s.Description)
	assert.Equal(t, genai.TypeNumber, s.Properties["strength"].Type)
	assert.Equal(t, genai.TypeInteger, s.Properties["sessions"].Type)
	assert.Equal(t, genai.TypeBoolean, s.Properties["passed"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["odd"].Type, "unsupported types fall back to string")
	assert.Equal(t, []string{"strength"}, s.Required)
}

func TestGeminiContents(t *testing.T) {
	got := geminiContents(senseiRequest().Messages)

	require.Len(t, got, 3)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "model", got[1].Role)
	assert.Equal(t, "user", got[2].Role)
	require.Len(t, got[2].Parts, 1)
	assert.Contains(t, got[2].Parts[0].Text, "for i := range xs")
}

func TestGeminiModels(t *testing.T) {
	assert.Equal(t, "gemini-2.5-flash", resolveModel("gemini-flash", geminiModels))
	assert.Equal(t, "gemini-2.0-flash", resolveModel("gemini-2.0-flash", geminiModels))
}
