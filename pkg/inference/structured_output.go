package inference

import (
	"fmt"
	"strings"
)

type StructuredOutputMode string

const (
	StructuredOutputModeOff        StructuredOutputMode = "off"
	StructuredOutputModeJSONObject StructuredOutputMode = "json_object"
	StructuredOutputModeJSONSchema StructuredOutputMode = "json_schema"
)

// StructuredOutputConfig asks the provider to constrain its output to JSON.
type StructuredOutputConfig struct {
	Mode        StructuredOutputMode   `json:"mode,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Strict      *bool                  `json:"strict,omitempty"`
}

func (c StructuredOutputConfig) IsEnabled() bool {
	return c.Mode == StructuredOutputModeJSONObject || c.Mode == StructuredOutputModeJSONSchema
}

func (c StructuredOutputConfig) StrictOrDefault() bool {
	if c.Strict == nil {
		return true
	}
	return *c.Strict
}

func (c StructuredOutputConfig) Validate() error {
	switch c.Mode {
	case "", StructuredOutputModeOff, StructuredOutputModeJSONObject:
		return nil
	case StructuredOutputModeJSONSchema:
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("structured output mode %q requires a non-empty schema name", c.Mode)
		}
		if len(c.Schema) == 0 {
			return fmt.Errorf("structured output mode %q requires a non-empty JSON schema", c.Mode)
		}
		return nil
	default:
		return fmt.Errorf("unknown structured output mode %q", c.Mode)
	}
}
