package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Kind tells what produced a message. Only the role and text are sent to the
// model; the kind drives display and transcripts.
type Kind string

const (
	KindPrompt   Kind = "prompt"
	KindFeedback Kind = "feedback"
	KindEnvelope Kind = "envelope"
	KindNotice   Kind = "notice"
	KindSystem   Kind = "system"
)

type Message struct {
	ID     uuid.UUID `json:"id"`
	Role   Role      `json:"role"`
	Kind   Kind      `json:"kind"`
	Text   string    `json:"text"`
	TurnID string    `json:"turn_id,omitempty"`
	Time   time.Time `json:"time"`

	// Display is what a UI shows for the message. For assistant turns it
	// accumulates the execution result that was fed back to the model.
	Display string `json:"display,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithKind(kind Kind) MessageOption {
	return func(m *Message) {
		m.Kind = kind
	}
}

func WithTurnID(turnID string) MessageOption {
	return func(m *Message) {
		m.TurnID = turnID
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func NewChatMessage(role Role, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:   uuid.New(),
		Role: role,
		Kind: KindPrompt,
		Text: text,
		Time: time.Now(),
	}
	if role == RoleSystem {
		ret.Kind = KindSystem
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// AppendDisplay adds a paragraph to the displayed content of the message.
func (m *Message) AppendDisplay(text string) {
	if m.Display == "" {
		m.Display = m.Text
	}
	m.Display = strings.TrimRight(m.Display, "\n") + "\n\n" + text
}

// Conversation is an ordered list of messages, oldest first.
type Conversation []*Message

func NewConversation(messages ...*Message) Conversation {
	return append(Conversation{}, messages...)
}

// Clone deep copies the conversation so it can leave the owner's lock.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(Conversation)
}

// ForModel drops the messages that are only for display.
func (c Conversation) ForModel() Conversation {
	ret := make(Conversation, 0, len(c))
	for _, m := range c {
		if m.Kind == KindNotice {
			continue
		}
		ret = append(ret, m)
	}
	return ret
}

// FindTurn returns the last message of the given kind produced in turn.
func (c Conversation) FindTurn(turnID string, kind Kind) (*Message, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].TurnID == turnID && c[i].Kind == kind {
			return c[i], true
		}
	}
	return nil, false
}
