package tools

import (
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/llm"
)

// Tool names accepted by the gateway.
const (
	UpdateMastery      = "update_mastery"
	QueueReinforcement = "queue_reinforcement"
	CompleteSession    = "complete_session"
	SetBelt            = "set_belt"
	RecordObservation  = "record_observation"
	SetTrainingContext = "set_training_context"
	PresentProblem     = "present_problem"
)

func beltEnum(description string) map[string]any {
	names := belt.Names()
	enum := make([]any, len(names))
	for i, n := range names {
		enum[i] = n
	}
	return map[string]any{
		"type":        "string",
		"enum":        enum,
		"description": description,
	}
}

// UpdateMasterySchema validates update_mastery input.
var UpdateMasterySchema = &llm.Schema{
	Name:        "tool-update-mastery",
	Description: "Update mastery data for a concept after evaluating the student's work. Call once per concept exercised.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"concept": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The concept name, e.g. \"closures\"",
			},
			"success": map[string]any{
				"type":        "boolean",
				"description": "Whether the student demonstrated the concept correctly",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "The context the concept was applied in",
			},
			"belt_level": beltEnum("The belt at which this concept typically emerges"),
			"mastery": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "Assessed mastery right now (0.0-1.0). Time decay is applied automatically. Omit to derive it from counters.",
			},
		},
		"required":             []any{"concept", "success"},
		"additionalProperties": false,
	},
}

// QueueReinforcementSchema validates queue_reinforcement input.
var QueueReinforcementSchema = &llm.Schema{
	Name:        "tool-queue-reinforcement",
	Description: "Add a concept to the reinforcement queue for future sessions.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"concept": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"context": map[string]any{
				"type":        "string",
				"description": "A new context to try this concept in",
			},
			"priority": map[string]any{
				"type": "string",
				"enum": []any{"low", "medium", "high"},
			},
		},
		"required":             []any{"concept", "priority"},
		"additionalProperties": false,
	},
}

// CompleteSessionSchema validates complete_session input.
var CompleteSessionSchema = &llm.Schema{
	Name:        "tool-complete-session",
	Description: "Mark the session complete with a summary evaluation.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"correctness": map[string]any{
				"type": "string",
				"enum": []any{"pass", "partial", "fail"},
			},
			"quality": map[string]any{
				"type": "string",
				"enum": []any{"needs_work", "acceptable", "good", "excellent"},
			},
			"notes": map[string]any{
				"type": "string",
			},
		},
		"required":             []any{"correctness", "quality"},
		"additionalProperties": false,
	},
}

// SetBeltSchema validates set_belt input.
var SetBeltSchema = &llm.Schema{
	Name:        "tool-set-belt",
	Description: "Assign the student's belt. Only valid during onboarding sessions.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"belt": beltEnum("The belt to assign"),
			"reason": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
		},
		"required":             []any{"belt", "reason"},
		"additionalProperties": false,
	},
}

// RecordObservationSchema validates record_observation input.
var RecordObservationSchema = &llm.Schema{
	Name:        "tool-record-observation",
	Description: "Record an observation about the student's work during this session.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{
				"type": "string",
				"enum": []any{"missed_opportunity", "anti_pattern", "breakthrough", "struggle", "near_miss"},
			},
			"concept": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"note": map[string]any{
				"type": "string",
			},
			"severity": map[string]any{
				"type": "string",
				"enum": []any{"minor", "moderate", "significant", "positive"},
			},
		},
		"required":             []any{"type", "concept", "note", "severity"},
		"additionalProperties": false,
	},
}

// SetTrainingContextSchema validates set_training_context input.
var SetTrainingContextSchema = &llm.Schema{
	Name:        "tool-set-training-context",
	Description: "Save the skill's training context to the catalog. Only valid during onboarding sessions.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"training_context": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
		},
		"required":             []any{"training_context"},
		"additionalProperties": false,
	},
}

// PresentProblemSchema validates present_problem input.
var PresentProblemSchema = &llm.Schema{
	Name:        "tool-present-problem",
	Description: "Record the metadata of the problem being presented to the student.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"concepts_targeted": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"belt_level": beltEnum("The difficulty level of this problem"),
			"starter_code": map[string]any{
				"type": "string",
			},
			"language": map[string]any{
				"type": "string",
			},
		},
		"required":             []any{"prompt", "concepts_targeted", "belt_level"},
		"additionalProperties": false,
	},
}

// Schemas maps each tool name to its input schema.
var Schemas = map[string]*llm.Schema{
	UpdateMastery:      UpdateMasterySchema,
	QueueReinforcement: QueueReinforcementSchema,
	CompleteSession:    CompleteSessionSchema,
	SetBelt:            SetBeltSchema,
	RecordObservation:  RecordObservationSchema,
	SetTrainingContext: SetTrainingContextSchema,
	PresentProblem:     PresentProblemSchema,
}

// Names returns the tool names in a stable order.
func Names() []string {
	return []string{
		RecordObservation,
		UpdateMastery,
		QueueReinforcement,
		CompleteSession,
		SetTrainingContext,
		SetBelt,
		PresentProblem,
	}
}
