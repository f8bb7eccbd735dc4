package preview

import (
	"context"
	"regexp"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Declaration is a top-level binding of a snippet.
type Declaration struct {
	Name string
	Kind string
	Line int
}

const (
	KindFunction = "function"
	KindClass    = "class"
	// KindVariable is a variable bound to a function, class, or wrapped component.
	KindVariable = "variable"
	// KindValue is a variable bound to anything else.
	KindValue = "value"
	// KindPattern comes from the fallback source scan.
	KindPattern = "pattern"
)

// IsComponentCandidate reports whether the declaration could be a component.
func (d Declaration) IsComponentCandidate() bool {
	return d.Kind != KindValue && isCapitalized(d.Name)
}

var functionValueTypes = map[string]bool{
	"arrow_function":      true,
	"function":            true,
	"function_expression": true,
	"class":               true,
	"call_expression":     true, // memo(...), forwardRef(...)
}

// TopLevelDeclarations lists the top-level declarations of a JSX snippet in
// source order. When the parser yields nothing usable, a regular expression
// scan is used instead.
func TopLevelDeclarations(ctx context.Context, code string) []Declaration {
	content := []byte(code)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return scanDeclarations(code)
	}
	defer tree.Close()

	root := tree.RootNode()
	var ret []Declaration
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration", "generator_function_declaration", "class_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				kind := KindFunction
				if n.Type() == "class_declaration" {
					kind = KindClass
				}
				ret = append(ret, Declaration{Name: getText(name), Kind: kind, Line: int(n.StartPoint().Row) + 1})
			}
		case "lexical_declaration", "variable_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if child.Type() != "variable_declarator" {
					continue
				}
				name := child.ChildByFieldName("name")
				value := child.ChildByFieldName("value")
				if name == nil || value == nil || name.Type() != "identifier" {
					continue
				}
				kind := KindValue
				if functionValueTypes[value.Type()] {
					kind = KindVariable
				}
				ret = append(ret, Declaration{Name: getText(name), Kind: kind, Line: int(n.StartPoint().Row) + 1})
			}
		case "export_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				visit(n.NamedChild(i))
			}
		}
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		visit(root.NamedChild(i))
	}

	if root.HasError() && !hasCandidate(ret) {
		return append(ret, scanDeclarations(code)...)
	}
	return ret
}

var declarationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(?:async\s+)?function\s+([A-Za-z_$][\w$]*)\s*\(`),
	regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?\([^)]*\)\s*=>`),
	regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?[A-Za-z_$][\w$]*\s*=>`),
	regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*function\b`),
	regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_$][\w$]*)`),
}

func scanDeclarations(code string) []Declaration {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, re := range declarationPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(code, -1) {
			hits = append(hits, hit{pos: m[2], name: code[m[2]:m[3]]})
		}
	}
	// source order
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	ret := make([]Declaration, 0, len(hits))
	for _, h := range hits {
		ret = append(ret, Declaration{Name: h.name, Kind: KindPattern, Line: lineOf(code, h.pos)})
	}
	return ret
}

func lineOf(s string, pos int) int {
	line := 1
	for i := 0; i < pos && i < len(s); i++ {
		if s[i] == '\n' {
			line++
		}
	}
	return line
}

func isCapitalized(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

func hasCandidate(decls []Declaration) bool {
	for _, d := range decls {
		if d.IsComponentCandidate() {
			return true
		}
	}
	return false
}
