package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteStripsImportsAndRecordsNames(t *testing.T) {
	code := `import React, { useState } from 'react';
import { BarChart, Bar as B } from "recharts";
import * as Icons from 'lucide-react';
import './styles.css';

function App() { return <div/>; }
`
	src := Rewrite(code)
	assert.NotContains(t, src.Code, "import")
	assert.Equal(t, []string{"React", "useState", "BarChart", "B", "Icons"}, src.Imports)
	assert.Contains(t, src.Code, "function App()")
}

func TestRewriteDefaultExports(t *testing.T) {
	tcs := []struct {
		name     string
		code     string
		contains string
		export   string
	}{
		{
			name:     "function",
			code:     "export default function Chart() { return null; }",
			contains: "function Chart()",
			export:   "Chart",
		},
		{
			name:     "identifier",
			code:     "const Card = () => null;\nexport default Card;\n",
			contains: "const Card = () => null;",
			export:   "Card",
		},
		{
			name:     "anonymous",
			code:     "export default () => <div/>;",
			contains: "var DefaultExport = () => <div/>;",
			export:   DefaultExportName,
		},
		{
			name:     "named exports",
			code:     "export const A = 1;\nexport function B() {}",
			contains: "const A = 1;\nfunction B() {}",
			export:   "",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			src := Rewrite(tc.code)
			assert.Contains(t, src.Code, tc.contains)
			assert.NotContains(t, src.Code, "export")
			assert.Equal(t, tc.export, src.DefaultExport)
		})
	}
}

func TestRewriteRepairsMarkup(t *testing.T) {
	src := Rewrite(`const A = () => &lt;div className="x"&gt;hi&lt;/div&gt;;`)
	assert.Equal(t, `const A = () => <div className="x">hi</div>;`, src.Code)

	src = Rewrite(`const B = () => <p>a < b</p>;`)
	assert.Equal(t, `const B = () => <p>a &lt; b</p>;`, src.Code)

	src = Rewrite(`const C = () => <p>x > 3</p>;`)
	assert.Equal(t, `const C = () => <p>x &gt; 3</p>;`, src.Code)
}

func TestRewriteLeavesStructureAlone(t *testing.T) {
	code := "const A = () => (\n  <div>\n    <h1>Title</h1>\n    <span>a</span><b>x</b>\n  </div>\n);"
	assert.Equal(t, code, Rewrite(code).Code)
}
