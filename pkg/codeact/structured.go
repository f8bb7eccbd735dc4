package codeact

import (
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/helpers"
	"github.com/go-go-golems/codeact/pkg/inference"
)

// StructuredOutput is the response format that constrains the model to the
// envelope. The schema mode is not strict since code and final_answer are
// optional.
func StructuredOutput(mode inference.StructuredOutputMode) inference.StructuredOutputConfig {
	cfg := inference.StructuredOutputConfig{Mode: mode}
	if mode != inference.StructuredOutputModeJSONSchema {
		return cfg
	}
	cfg.Name = envelope.SchemaName
	cfg.Description = "One CodeAct step: reasoning, an action, and optionally code or a final answer"
	cfg.Schema = envelope.Schema()
	cfg.Strict = helpers.Ptr(false)
	return cfg
}
