package preview

import (
	"strings"
)

// Scope is what a resolution strategy may inspect after a snippet ran.
type Scope interface {
	// SelfRendered reports whether the snippet mounted itself.
	SelfRendered() bool
	// Callable reports whether name is bound to a function in the snippet's
	// global scope, lexical bindings included.
	Callable(name string) bool
	Source() Source
	Declarations() []Declaration
	// NewGlobals lists the names the snippet added to the global scope, in
	// declaration order.
	NewGlobals() []string
}

// Resolution names the component to mount, or records that none is needed.
type Resolution struct {
	Strategy     string `json:"strategy"`
	Component    string `json:"component,omitempty"`
	SelfRendered bool   `json:"selfRendered,omitempty"`
}

// Strategy is one way of finding the component a snippet defines.
type Strategy interface {
	Name() string
	Resolve(scope Scope) (Resolution, bool)
}

type strategyFunc struct {
	name string
	fn   func(Scope) (string, bool)
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Resolve(scope Scope) (Resolution, bool) {
	c, ok := s.fn(scope)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{Strategy: s.name, Component: c}, true
}

// ConventionalComponentNames are tried in order by ConventionalNames.
var ConventionalComponentNames = []string{
	"App", "Component", "Main", "Example", "GeneratedComponent", "Demo", "Preview",
}

// NoComponentMessage is reported when no strategy finds a component.
const NoComponentMessage = `No React component found. Make sure to define a component like "function App() { ... }"`

type selfRendered struct{}

// SelfRendered resolves when the snippet called its own render entrypoint.
func SelfRendered() Strategy { return selfRendered{} }

func (selfRendered) Name() string { return "self-rendered" }

func (selfRendered) Resolve(scope Scope) (Resolution, bool) {
	if !scope.SelfRendered() {
		return Resolution{}, false
	}
	return Resolution{Strategy: "self-rendered", SelfRendered: true}, true
}

// ConventionalNames resolves the default export, then the first conventional
// component name bound to a function.
func ConventionalNames(names ...string) Strategy {
	if len(names) == 0 {
		names = ConventionalComponentNames
	}
	return strategyFunc{name: "conventional-name", fn: func(scope Scope) (string, bool) {
		if d := scope.Source().DefaultExport; d != "" && scope.Callable(d) {
			return d, true
		}
		for _, n := range names {
			if scope.Callable(n) {
				return n, true
			}
		}
		return "", false
	}}
}

// Declarations resolves the first capitalized top-level function, class, or
// function-valued variable declared by the snippet.
func Declarations() Strategy {
	return strategyFunc{name: "declaration", fn: func(scope Scope) (string, bool) {
		for _, d := range scope.Declarations() {
			if d.IsComponentCandidate() && scope.Callable(d.Name) {
				return d.Name, true
			}
		}
		return "", false
	}}
}

// CapitalizedGlobals resolves any capitalized callable the snippet added to
// the global scope, skipping built-in constructors.
func CapitalizedGlobals() Strategy {
	return strategyFunc{name: "capitalized-global", fn: func(scope Scope) (string, bool) {
		for _, n := range scope.NewGlobals() {
			if isCapitalized(n) && !isBuiltinName(n) && scope.Callable(n) {
				return n, true
			}
		}
		return "", false
	}}
}

// DefaultStrategies is the resolution order used by the evaluator.
func DefaultStrategies() []Strategy {
	return []Strategy{
		SelfRendered(),
		ConventionalNames(),
		Declarations(),
		CapitalizedGlobals(),
	}
}

// Resolve runs strategies in order and returns the first hit.
func Resolve(scope Scope, strategies []Strategy) (Resolution, bool) {
	for _, s := range strategies {
		if r, ok := s.Resolve(scope); ok {
			return r, true
		}
	}
	return Resolution{}, false
}

func isBuiltinName(n string) bool {
	switch n {
	case "Object", "Function", "Array", "String", "Number", "Boolean", "Date", "RegExp",
		"Error", "Map", "Set", "Promise", "Symbol", "Proxy", "Reflect", "JSON", "Math":
		return true
	}
	for _, prefix := range []string{"HTML", "SVG", "CSS", "DOM"} {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
