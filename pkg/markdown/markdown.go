// Package markdown renders final answers and pulls code blocks out of model
// output.
package markdown

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type CodeBlock struct {
	Code     string
	Language string
}

// FencedBlocks returns every fenced code block in src, in document order.
func FencedBlocks(src string) []CodeBlock {
	source := []byte(src)
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	var ret []CodeBlock
	_ = ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		v, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		lines := v.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
		}
		ret = append(ret, CodeBlock{
			Code:     sb.String(),
			Language: string(v.Language(source)),
		})
		return ast.WalkSkipChildren, nil
	})
	return ret
}

// ToHTML renders markdown to HTML with goldmark's defaults.
func ToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", errors.Wrap(err, "could not render markdown")
	}
	return buf.String(), nil
}

// PlainText renders src and returns its visible text, with code blocks
// replaced by a placeholder.
func PlainText(src string) (string, error) {
	html, err := ToHTML(src)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", errors.Wrap(err, "could not parse rendered markdown")
	}
	doc.Find("pre").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("<p>[code]</p>")
	})

	var parts []string
	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n"), nil
}

// Summary is PlainText cut to at most n runes.
func Summary(src string, n int) string {
	t, err := PlainText(src)
	if err != nil {
		t = src
	}
	r := []rune(t)
	if n > 0 && len(r) > n {
		return string(r[:n]) + "…"
	}
	return t
}
