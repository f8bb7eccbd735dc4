package cmds

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/recorder"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSnippetsFromMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "answer.md")
	src := "Here it is:\n\n```jsx\nfunction App() { return <div/>; }\n```\n\n```bash\nnpm start\n```\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	snippets, err := readSnippets(path)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, path+"#1", snippets[0].source)
	assert.Contains(t, snippets[0].code, "function App()")
}

func TestReadSnippetsFromSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chart.jsx")
	require.NoError(t, os.WriteFile(path, []byte("const Chart = () => null;"), 0o644))

	snippets, err := readSnippets(path)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "const Chart = () => null;", snippets[0].code)

	_, err = readSnippets(filepath.Join(dir, "missing.jsx"))
	assert.Error(t, err)
}

func TestPrintFinalAnswer(t *testing.T) {
	var buf bytes.Buffer
	s := codeact.Snapshot{
		State:     codeact.StateTerminated,
		TurnCount: 2,
		Turns: []codeact.Turn{
			{Envelope: &envelope.Envelope{Action: envelope.ActionExecuteCode, Code: "x"}},
			{Envelope: &envelope.Envelope{Action: envelope.ActionProvideAnswer, FinalAnswer: "Done."}},
		},
	}
	require.NoError(t, printFinalAnswer(&buf, s))
	assert.Contains(t, buf.String(), "Done.")

	buf.Reset()
	require.NoError(t, printFinalAnswer(&buf, codeact.Snapshot{State: codeact.StateIdle}))
	assert.Contains(t, buf.String(), "No answer")
}

func TestMachineOptionsFromSettings(t *testing.T) {
	ss, err := settings.NewStepSettings()
	require.NoError(t, err)
	assert.Equal(t, 8, ss.CodeAct.MaxTurns)

	// previewer and recorder are optional
	opts := machineOptions(ss, nil, nil, nil)
	assert.NotEmpty(t, opts)

	withPreview := machineOptions(ss, nil, newEvaluator(ss), nil)
	assert.Greater(t, len(withPreview), len(opts))
}

func TestFilterByTitle(t *testing.T) {
	list := []recorder.Summary{
		{ID: "1", Title: "Sales bar chart"},
		{ID: "2", Title: "Login form"},
		{ID: "3", Title: "Revenue chart"},
	}

	got, err := filterByTitle(list, "*chart")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	got, err = filterByTitle(list, "")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Len(t, list, 3)
}
