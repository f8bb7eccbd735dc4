package partialjson

import "strings"

// Fields holds the envelope fields found in a streaming buffer. A nil pointer
// means the field could not be located yet.
type Fields struct {
	Thought     *Value `json:"thought,omitempty"`
	Action      *Value `json:"action,omitempty"`
	Code        *Value `json:"code,omitempty"`
	FinalAnswer *Value `json:"final_answer,omitempty"`
}

// ExtractFields runs Extract for every envelope field. Code is read from
// whichever of `code` and `react_code` appears first; a complete empty `code`
// falls back to `react_code`.
func ExtractFields(buffer string) Fields {
	var f Fields
	f.Thought = lookup(buffer, FieldThought)
	f.Action = lookup(buffer, FieldAction)
	f.FinalAnswer = lookup(buffer, FieldFinalAnswer)
	f.Code = lookupCode(buffer)
	return f
}

// lookupCode picks the code key by position so the choice holds as the
// buffer grows.
func lookupCode(buffer string) *Value {
	codeAt := strings.Index(buffer, `"`+FieldCode+`"`)
	reactAt := strings.Index(buffer, `"`+FieldReactCode+`"`)
	if reactAt >= 0 && (codeAt < 0 || reactAt < codeAt) {
		return lookup(buffer, FieldReactCode)
	}
	v := lookup(buffer, FieldCode)
	if v == nil || (v.Complete && v.Text == "") {
		if alt := lookup(buffer, FieldReactCode); alt != nil {
			return alt
		}
	}
	return v
}

func lookup(buffer string, field string) *Value {
	v, ok := Extract(buffer, field)
	if !ok {
		return nil
	}
	return &v
}

// HasCode is true once a non-empty code value has been seen.
func (f Fields) HasCode() bool {
	return f.Code != nil && f.Code.Text != ""
}

// Get returns the text of a field by name, and whether it is present.
func (f Fields) Get(field string) (string, bool) {
	var v *Value
	switch field {
	case FieldThought:
		v = f.Thought
	case FieldAction:
		v = f.Action
	case FieldCode, FieldReactCode:
		v = f.Code
	case FieldFinalAnswer:
		v = f.FinalAnswer
	}
	if v == nil {
		return "", false
	}
	return v.Text, true
}

// Changed lists the fields whose text or completion differs from prev, in
// envelope order.
func (f Fields) Changed(prev Fields) []string {
	var ret []string
	pairs := []struct {
		name string
		a, b *Value
	}{
		{FieldThought, f.Thought, prev.Thought},
		{FieldAction, f.Action, prev.Action},
		{FieldCode, f.Code, prev.Code},
		{FieldFinalAnswer, f.FinalAnswer, prev.FinalAnswer},
	}
	for _, p := range pairs {
		if !sameValue(p.a, p.b) {
			ret = append(ret, p.name)
		}
	}
	return ret
}

func sameValue(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
