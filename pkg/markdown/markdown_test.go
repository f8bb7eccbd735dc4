package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFencedBlocks(t *testing.T) {
	src := "Intro\n\n```json\n{\"a\": 1}\n```\n\ntext\n\n```jsx\nconst App = () => null\n```\n"
	blocks := FencedBlocks(src)
	require.Len(t, blocks, 2)
	assert.Equal(t, "json", blocks[0].Language)
	assert.Equal(t, "{\"a\": 1}\n", blocks[0].Code)
	assert.Equal(t, "jsx", blocks[1].Language)
}

func TestPlainText(t *testing.T) {
	out, err := PlainText("# Title\n\nSome **bold** text.\n\n```js\nx()\n```\n")
	require.NoError(t, err)
	assert.Equal(t, "Title\nSome bold text.\n[code]", out)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "abc…", Summary("abcdef", 3))
	assert.Equal(t, "abc", Summary("abc", 10))
}
