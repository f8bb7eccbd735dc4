package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc prints a conversation as it happens: the streamed thought,
// then one line per envelope, preview result and feedback.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	printedThought := map[string]int{}

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventError:
			_, err = fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString)
			return err

		case *EventEnvelopeDelta:
			if p_.Fields.Thought == nil {
				return nil
			}
			turn := p_.Metadata().TurnID
			done := printedThought[turn]
			text := p_.Fields.Thought.Text
			if done == 0 {
				if isFirst && name != "" {
					isFirst = false
					if _, err = fmt.Fprintf(w, "\n%s: \n", name); err != nil {
						return err
					}
				}
				if _, err = fmt.Fprintf(w, "\n[turn %d] ", p_.Metadata().TurnIndex); err != nil {
					return err
				}
			}
			if len(text) > done {
				if _, err = fmt.Fprint(w, text[done:]); err != nil {
					return err
				}
				printedThought[turn] = len(text)
			}

		case *EventEnvelope:
			delete(printedThought, p_.Metadata().TurnID)
			summary := map[string]interface{}{
				"action": string(p_.Envelope.Action),
			}
			if p_.Envelope.HasCode() {
				summary["code_lines"] = strings.Count(strings.TrimRight(p_.Envelope.Code, "\n"), "\n") + 1
			}
			if p_.Envelope.FinalAnswer != "" {
				summary["final_answer"] = p_.Envelope.FinalAnswer
			}
			if len(p_.Corrections) > 0 {
				summary["corrections"] = p_.Corrections
			}
			if p_.Recovered {
				summary["recovered"] = true
			}
			v_, err := yaml.Marshal(summary)
			if err != nil {
				return err
			}
			if _, err = fmt.Fprintf(w, "\n%s", v_); err != nil {
				return err
			}

		case *EventPreviewResult:
			if p_.Success {
				_, err = fmt.Fprintf(w, "[preview] ok (%s)\n", p_.Outcome)
			} else {
				_, err = fmt.Fprintf(w, "[preview] error: %s (%s)\n", p_.Error, p_.Outcome)
			}
			return err

		case *EventCodeDiff:
			_, err = fmt.Fprintf(w, "[diff] +%d -%d\n", p_.Added, p_.Removed)
			return err

		case *EventStateChange:
			if p_.To == "terminated" {
				_, err = fmt.Fprintf(w, "[done] %d/%d turns (%s)\n", p_.TurnCount, p_.MaxTurns, p_.Reason)
				return err
			}

		case *EventInterrupt:
			_, err = fmt.Fprintf(w, "\n[interrupted] %s\n", p_.Text)
			return err

		case *EventPartialCompletionStart,
			*EventPartialCompletion,
			*EventFinal,
			*EventCodeDetected,
			*EventPreviewRequested,
			*EventFeedback:
		}

		return nil
	}
}
