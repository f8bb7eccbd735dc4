// Package prompt renders the system instruction sent with every model call.
package prompt

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

//go:embed system.tmpl
var defaultTemplate string

// TurnInfo is what the template knows about the call being made.
type TurnInfo struct {
	Turn      int
	MaxTurns  int
	Remaining int
	// Final is set on the last turn of the budget, when a terminal answer is
	// required.
	Final     bool
	Libraries []string
	Schema    string
}

type Builder struct {
	tmpl *template.Template
}

// NewBuilder parses text as the system prompt template. An empty text selects
// the built-in template.
func NewBuilder(text string) (*Builder, error) {
	if text == "" {
		text = defaultTemplate
	}
	t, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse system prompt template")
	}
	return &Builder{tmpl: t}, nil
}

func MustNewBuilder(text string) *Builder {
	b, err := NewBuilder(text)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) Render(info TurnInfo) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, info); err != nil {
		return "", errors.Wrap(err, "could not render system prompt")
	}
	return buf.String(), nil
}
