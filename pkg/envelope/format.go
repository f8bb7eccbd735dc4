package envelope

import (
	"fmt"
	"strings"
)

const (
	FeedbackSuccess = "EXECUTION_RESULT: Success! The React component rendered successfully. The preview shows the working component with no errors."
	feedbackError   = "EXECUTION_RESULT: Error - %s"
)

// FormatFeedback renders a preview outcome as the message sent back to the
// model.
func FormatFeedback(success bool, message string) string {
	if success {
		return FeedbackSuccess
	}
	return fmt.Sprintf(feedbackError, message)
}

// Linearize turns an envelope into the text block stored as the assistant
// message in the model history.
func Linearize(env Envelope) string {
	var sb strings.Builder
	if env.Thought != "" {
		sb.WriteString("Thought: ")
		sb.WriteString(env.Thought)
		sb.WriteString("\n")
	}
	sb.WriteString("Action: ")
	sb.WriteString(string(env.Action))
	sb.WriteString("\n")
	if env.HasCode() {
		sb.WriteString("Code:\n```jsx\n")
		sb.WriteString(strings.TrimRight(env.Code, "\n"))
		sb.WriteString("\n```\n")
	}
	if env.FinalAnswer != "" {
		sb.WriteString("Final Answer: ")
		sb.WriteString(env.FinalAnswer)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
