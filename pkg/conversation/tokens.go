package conversation

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts the tokens of a message text.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter for the given tiktoken encoding, for
// example "cl100k_base". Counts are an estimate for non-OpenAI models.
func NewTokenCounter(encoding string) (TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, errors.Wrapf(err, "unknown encoding %s", encoding)
	}
	return &tiktokenCounter{codec: codec}, nil
}

func (t *tiktokenCounter) Count(text string) int {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// perMessageOverhead approximates the role and separator tokens of the chat
// format.
const perMessageOverhead = 4

// TrimToBudget keeps the system messages and the most recent other messages
// whose total stays within budget. The newest message is always kept. A
// budget <= 0 disables trimming.
func TrimToBudget(c Conversation, budget int, counter TokenCounter) Conversation {
	if budget <= 0 || counter == nil || len(c) == 0 {
		return c
	}

	used := 0
	keep := make([]bool, len(c))
	for i, m := range c {
		if m.Role == RoleSystem {
			used += counter.Count(m.Text) + perMessageOverhead
			keep[i] = true
		}
	}

	// the kept window is contiguous: once a message does not fit, older
	// ones are dropped too.
	for i := len(c) - 1; i >= 0; i-- {
		m := c[i]
		if m.Role == RoleSystem {
			continue
		}
		cost := counter.Count(m.Text) + perMessageOverhead
		if used+cost > budget && i != len(c)-1 {
			break
		}
		used += cost
		keep[i] = true
	}

	ret := make(Conversation, 0, len(c))
	for i, m := range c {
		if keep[i] {
			ret = append(ret, m)
		}
	}
	return ret
}
