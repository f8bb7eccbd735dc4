package partialjson

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEscapes(t *testing.T) {
	buf := `{"thought":"line1\nline2\"quoted\""}`
	v, ok := Extract(buf, FieldThought)
	require.True(t, ok)
	assert.True(t, v.Complete)
	assert.Equal(t, "line1\nline2\"quoted\"", v.Text)
}

func TestExtractPartialValue(t *testing.T) {
	tests := []struct {
		name     string
		buffer   string
		field    string
		want     string
		wantOK   bool
		complete bool
	}{
		{"missing field", `{"thought":"x"`, FieldCode, "", false, false},
		{"no colon yet", `{"code"`, FieldCode, "", false, false},
		{"no opening quote yet", `{"code": `, FieldCode, "", false, false},
		{"empty open string", `{"code": "`, FieldCode, "", false, false},
		{"non string value", `{"code": 12}`, FieldCode, "", false, false},
		{"open string", `{"code": "function App(`, FieldCode, "function App(", true, false},
		{"trailing backslash held", `{"code":"a\`, FieldCode, "a", true, false},
		{"escaped backslash at end", `{"code":"a\\`, FieldCode, `a\`, true, false},
		{"partial unicode held", `{"thought":"caf\u00`, FieldThought, "caf", true, false},
		{"unicode decoded", `{"thought":"caf\u00e9"}`, FieldThought, "café", true, true},
		{"surrogate pair", `{"thought":"😀"}`, FieldThought, "😀", true, true},
		{"half surrogate held", `{"thought":"a\ud83d\u`, FieldThought, "a", true, false},
		{"whitespace after colon", "{\"action\" :\n\t \"execute_code\"}", FieldAction, "execute_code", true, true},
		{"empty closed string", `{"final_answer":""}`, FieldFinalAnswer, "", true, true},
		{"quoted name only", `{"encode":"x","code":"y"}`, FieldCode, "y", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := Extract(tt.buffer, tt.field)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, v.Text)
			assert.Equal(t, tt.complete, v.Complete)
		})
	}
}

func TestExtractFirstOccurrenceMisfire(t *testing.T) {
	// only the first occurrence of the quoted name is considered
	buf := `Sure, "code": 1 is next. {"code":"real"}`
	_, ok := Extract(buf, FieldCode)
	assert.False(t, ok)
}

func TestExtractFieldsReactCodeFallback(t *testing.T) {
	f := ExtractFields(`{"thought":"t","action":"execute_code","react_code":"const App = () => null"}`)
	require.NotNil(t, f.Code)
	assert.Equal(t, "const App = () => null", f.Code.Text)
	assert.True(t, f.HasCode())

	f = ExtractFields(`{"code":"","react_code":"x"}`)
	require.NotNil(t, f.Code)
	assert.Equal(t, "x", f.Code.Text)

	f = ExtractFields(`{"code":"a","react_code":"x"}`)
	assert.Equal(t, "a", f.Code.Text)
}

func TestExtractFieldsCodeKeyIsStable(t *testing.T) {
	for _, s := range []string{
		`{"thought":"t","react_code":"abc","code":"zz"}`,
		`{"thought":"t","code":"abc","react_code":"zz"}`,
		`{"code":"","react_code":"xyz"}`,
	} {
		prev := ""
		for i := 0; i <= len(s); i++ {
			f := ExtractFields(s[:i])
			if f.Code == nil {
				assert.Empty(t, prev, "code vanished at %d of %s", i, s)
				continue
			}
			assert.True(t, strings.HasPrefix(f.Code.Text, prev), "code %q does not extend %q at %d of %s", f.Code.Text, prev, i, s)
			prev = f.Code.Text
		}
	}

	f := ExtractFields(`{"thought":"t","react_code":"abc","code":"zz"}`)
	assert.Equal(t, "abc", f.Code.Text)
}

func TestExtractPrefixProperty(t *testing.T) {
	docs := []map[string]string{
		{
			"thought":      "Plan: render a \"bar\" chart\nwith recharts \\ done",
			"action":       "execute_code",
			"code":         "function App() {\n  return <div className=\"x\">{'a < b'}</div>;\n}\n",
			"final_answer": "",
		},
		{
			"thought":      "unicode é ü 😀 and tabs\tinside",
			"action":       "provide_answer",
			"final_answer": "Here it is: </script>   done",
		},
	}

	for _, doc := range docs {
		b, err := json.Marshal(doc)
		require.NoError(t, err)
		s := string(b)

		final := ExtractFields(s)
		for name, want := range doc {
			got, ok := final.Get(name)
			require.True(t, ok, name)
			assert.Equal(t, want, got, name)
		}

		prev := Fields{}
		for i := 0; i <= len(s); i++ {
			p := s[:i]
			cur := ExtractFields(p)
			assert.Equal(t, cur, ExtractFields(p), "idempotent at %d", i)

			for name := range doc {
				v, ok := cur.Get(name)
				if !ok {
					pv, hadPrev := prev.Get(name)
					assert.False(t, hadPrev && pv != "", "field %s vanished at %d", name, i)
					continue
				}
				final, _ := final.Get(name)
				assert.True(t, strings.HasPrefix(final, v), "field %s at %d: %q not a prefix of %q", name, i, v, final)
				if pv, ok := prev.Get(name); ok {
					assert.True(t, strings.HasPrefix(v, pv), "field %s shrank at %d", name, i)
				}
			}
			prev = cur
		}
	}
}

func TestFieldsChanged(t *testing.T) {
	a := ExtractFields(`{"thought":"hel`)
	b := ExtractFields(`{"thought":"hello","action":"exec`)
	assert.Equal(t, []string{FieldThought, FieldAction}, b.Changed(a))
	assert.Empty(t, b.Changed(b))
}
