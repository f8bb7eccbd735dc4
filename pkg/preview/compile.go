package preview

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// CompileError is a syntax error in the rewritten snippet. Line is 1-based,
// Column is 0-based as reported by the compiler.
type CompileError struct {
	Message  string
	Line     int
	Column   int
	LineText string
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return "Syntax error: " + e.Message
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Syntax error at line %d, column %d: %s", e.Line, e.Column+1, e.Message)
	if e.LineText != "" {
		sb.WriteString("\n\n")
		sb.WriteString(e.LineText)
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat(" ", min(e.Column, len(e.LineText))))
		sb.WriteString("^")
	}
	sb.WriteString("\n\nCommon fixes: escape < and > in JSX text as {'<'} or &lt;, close every tag, and balance braces and parentheses.")
	return sb.String()
}

// Compile transforms JSX to plain JavaScript the sandbox can run.
func Compile(src Source) (string, error) {
	result := api.Transform(src.Code, api.TransformOptions{
		Loader:      api.LoaderJSX,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Target:      api.ES2019,
		Format:      api.FormatDefault,
		Sourcefile:  "component.jsx",
	})
	if len(result.Errors) > 0 {
		return "", toCompileError(result.Errors[0])
	}
	return string(result.Code), nil
}

func toCompileError(m api.Message) *CompileError {
	ce := &CompileError{Message: m.Text}
	if m.Location != nil {
		ce.Line = m.Location.Line
		ce.Column = m.Location.Column
		ce.LineText = m.Location.LineText
	}
	return ce
}
