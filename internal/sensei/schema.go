package sensei

import (
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/tools"
)

func toolNames() []any {
	names := tools.Names()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// TurnSchema is the structured output of one sensei round. Tool inputs are
// JSON-encoded strings so the schema stays closed for strict providers.
var TurnSchema = &llm.Schema{
	Name:        "sensei-turn",
	Description: "The sensei's reply to the student and the tools to run",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reply": map[string]any{
				"type":        "string",
				"description": "Message shown to the student",
			},
			"tool_calls": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{
							"type": "string",
							"enum": toolNames(),
						},
						"input": map[string]any{
							"type":        "string",
							"description": "The tool's arguments as a JSON-encoded object",
						},
					},
					"required":             []any{"name", "input"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"reply", "tool_calls"},
		"additionalProperties": false,
	},
}
