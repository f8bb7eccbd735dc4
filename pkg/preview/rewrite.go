package preview

import (
	"regexp"
	"strings"
)

// Source is a snippet rewritten to run as a plain script.
type Source struct {
	Original string
	Code     string
	// Imports lists the local names bound by the removed import statements.
	Imports []string
	// DefaultExport is the name of the default export, if it had one.
	DefaultExport string
}

// DefaultExportName is bound to anonymous default exports.
const DefaultExportName = "DefaultExport"

var (
	reImportFrom   = regexp.MustCompile(`import\s+([^'";]*?)\s*from\s+['"][^'"]*['"];?[ \t]*`)
	reImportBare   = regexp.MustCompile(`import\s+['"][^'"]*['"];?[ \t]*`)
	reExportDefFn  = regexp.MustCompile(`export\s+default\s+(function|class)\s+([A-Za-z_$][\w$]*)`)
	reExportDefId  = regexp.MustCompile(`export\s+default\s+([A-Za-z_$][\w$]*)\s*;?[ \t]*(\n|$)`)
	reExportDefAny = regexp.MustCompile(`export\s+default\s+`)
	reExport       = regexp.MustCompile(`export\s+`)
	reEscapedTag   = regexp.MustCompile(`&lt;(/?[a-zA-Z][^&>]*?)&gt;`)
	reTextOperator = regexp.MustCompile(`>([^<>{}]*?)([<>])([^<>{}]*?)<`)
	reIdentifier   = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)
)

// Rewrite strips module syntax and repairs the markup mistakes generated code
// often contains. It never fails; the compiler reports what is left.
func Rewrite(code string) Source {
	src := Source{Original: code}

	s := reImportFrom.ReplaceAllStringFunc(code, func(m string) string {
		sub := reImportFrom.FindStringSubmatch(m)
		src.Imports = append(src.Imports, importedNames(sub[1])...)
		return ""
	})
	s = reImportBare.ReplaceAllString(s, "")

	s = reExportDefFn.ReplaceAllStringFunc(s, func(m string) string {
		sub := reExportDefFn.FindStringSubmatch(m)
		src.DefaultExport = sub[2]
		return sub[1] + " " + sub[2]
	})
	s = reExportDefId.ReplaceAllStringFunc(s, func(m string) string {
		sub := reExportDefId.FindStringSubmatch(m)
		if src.DefaultExport == "" {
			src.DefaultExport = sub[1]
		}
		return sub[2]
	})
	if reExportDefAny.MatchString(s) {
		if src.DefaultExport == "" {
			src.DefaultExport = DefaultExportName
		}
		s = reExportDefAny.ReplaceAllString(s, "var "+DefaultExportName+" = ")
	}
	s = reExport.ReplaceAllString(s, "")

	s = reEscapedTag.ReplaceAllString(s, "<$1>")
	s = escapeTextOperators(s)

	src.Code = s
	return src
}

// importedNames returns the local bindings of an import clause such as
// `React, { useState, Foo as Bar }` or `* as Icons`, in clause order.
func importedNames(clause string) []string {
	var ret []string
	add := func(part string) {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "type "))
		if i := strings.Index(part, " as "); i >= 0 {
			part = strings.TrimSpace(part[i+4:])
		}
		if reIdentifier.MatchString(part) {
			ret = append(ret, part)
		}
	}

	clause = strings.TrimPrefix(strings.TrimSpace(clause), "type ")
	head, inner, tail := clause, "", ""
	if open := strings.IndexByte(clause, '{'); open >= 0 {
		head = clause[:open]
		rest := clause[open+1:]
		if closing := strings.IndexByte(rest, '}'); closing >= 0 {
			inner, tail = rest[:closing], rest[closing+1:]
		} else {
			inner = rest
		}
	}
	for _, group := range []string{head, inner, tail} {
		for _, part := range strings.Split(group, ",") {
			add(part)
		}
	}
	return ret
}

// escapeTextOperators turns a comparison operator sitting in JSX text, as in
// `<p>a < b</p>`, into an entity. Text that looks like an attribute is left
// alone.
func escapeTextOperators(s string) string {
	return reTextOperator.ReplaceAllStringFunc(s, func(m string) string {
		sub := reTextOperator.FindStringSubmatch(m)
		before, op, after := sub[1], sub[2], sub[3]
		if strings.TrimSpace(before) == "" && strings.TrimSpace(after) == "" {
			return m
		}
		if looksLikeAttribute(before) || looksLikeAttribute(after) {
			return m
		}
		entity := "&lt;"
		if op == ">" {
			entity = "&gt;"
		}
		return ">" + before + entity + after + "<"
	})
}

func looksLikeAttribute(s string) bool {
	return strings.Contains(s, "className") || strings.Contains(s, "=")
}
