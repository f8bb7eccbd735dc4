// Package envelope defines the JSON object the model returns every turn and
// the post-processing applied to it once the stream is complete.
package envelope

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/codeact/pkg/markdown"
	gjson "github.com/go-go-golems/glazed/pkg/helpers/json"
	"github.com/pkg/errors"
)

type Action string

const (
	ActionExecuteCode   Action = "execute_code"
	ActionDebugError    Action = "debug_error"
	ActionProvideAnswer Action = "provide_answer"
)

func (a Action) Valid() bool {
	switch a {
	case ActionExecuteCode, ActionDebugError, ActionProvideAnswer:
		return true
	}
	return false
}

// IsTerminal is true for the action that ends a conversation.
func (a Action) IsTerminal() bool {
	return a == ActionProvideAnswer
}

type Envelope struct {
	Thought     string `json:"thought" jsonschema:"description=Step-by-step reasoning about what to do next"`
	Action      Action `json:"action" jsonschema:"enum=execute_code,enum=debug_error,enum=provide_answer,description=What to do with this turn"`
	Code        string `json:"code,omitempty" jsonschema:"description=A complete React component to render in the preview"`
	FinalAnswer string `json:"final_answer,omitempty" jsonschema:"description=The answer shown to the user when the task is done"`
}

func (e Envelope) HasCode() bool {
	return strings.TrimSpace(e.Code) != ""
}

const (
	apologyThought = "An error occurred while processing the request."
	apologyAnswer  = "I'm sorry, I encountered an error. Please try again."
)

// Apology is the terminal envelope substituted for output that cannot be
// parsed.
func Apology() Envelope {
	return Envelope{
		Thought:     apologyThought,
		Action:      ActionProvideAnswer,
		FinalAnswer: apologyAnswer,
	}
}

type ParseReport struct {
	// Recovered is set when the output could not be parsed and the apology
	// envelope was returned instead.
	Recovered bool `json:"recovered"`
	// Extracted is set when the object had to be dug out of surrounding text.
	Extracted  bool     `json:"extracted,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Err        error    `json:"-"`
}

// Parse decodes the complete model output. It never fails: output that cannot
// be decoded yields the apology envelope with Recovered set.
func Parse(text string) (Envelope, ParseReport) {
	report := ParseReport{}

	candidate := stripFences(strings.TrimSpace(text))
	raw, err := decodeObject(candidate)
	if err != nil {
		for _, block := range gjson.ExtractJSON(text) {
			if raw, err = decodeObject(block); err == nil {
				report.Extracted = true
				break
			}
		}
	}
	if err != nil {
		if obj, ok := firstObject(text); ok {
			if raw, err = decodeObject(obj); err == nil {
				report.Extracted = true
			}
		}
	}
	if err != nil {
		report.Recovered = true
		report.Err = err
		return Apology(), report
	}

	report.Violations = Validate(raw)

	env := Envelope{
		Thought:     stringField(raw, "thought"),
		Action:      Action(strings.TrimSpace(stringField(raw, "action"))),
		Code:        stringField(raw, "code"),
		FinalAnswer: stringField(raw, "final_answer"),
	}
	if strings.TrimSpace(env.Code) == "" {
		env.Code = stringField(raw, "react_code")
	}
	return env, report
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	blocks := markdown.FencedBlocks(s)
	if len(blocks) == 0 {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return strings.TrimSpace(blocks[0].Code)
}

// firstObject returns the first brace-balanced object in s. Braces inside
// strings do not count.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		// unbalanced from here, try the next opening brace
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func decodeObject(s string) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, errors.Wrap(err, "could not decode envelope")
	}
	if raw == nil {
		return nil, errors.New("envelope is not an object")
	}
	return raw, nil
}

func stringField(raw map[string]interface{}, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
