package envelope

import "strings"

const (
	CorrectionDroppedFinalAnswer = "dropped final_answer from a code action"
	CorrectionMissingCode        = "code action without code turned into provide_answer"
	CorrectionBackfilledAnswer   = "backfilled final_answer from thought"
	CorrectionUnknownAction      = "unknown action"
	CorrectionForcedTerminal     = "turn budget exhausted, action forced to provide_answer"
)

// Normalize enforces the envelope invariants on a parsed envelope:
//
//   - execute_code and debug_error carry code and never a final_answer;
//   - provide_answer carries code, a final_answer, or both.
//
// When forceTerminal is set every action becomes provide_answer; code is kept
// so that it is rendered one last time. The returned list names the
// corrections that were applied.
func Normalize(env Envelope, forceTerminal bool) (Envelope, []string) {
	var corrections []string

	if !env.Action.Valid() {
		corrections = append(corrections, CorrectionUnknownAction+": "+string(env.Action))
		if env.HasCode() {
			env.Action = ActionExecuteCode
		} else {
			env.Action = ActionProvideAnswer
		}
	}

	if forceTerminal && env.Action != ActionProvideAnswer {
		env.Action = ActionProvideAnswer
		corrections = append(corrections, CorrectionForcedTerminal)
	}

	switch env.Action {
	case ActionExecuteCode, ActionDebugError:
		if env.FinalAnswer != "" {
			env.FinalAnswer = ""
			corrections = append(corrections, CorrectionDroppedFinalAnswer)
		}
		if !env.HasCode() {
			env.Action = ActionProvideAnswer
			env.Code = ""
			corrections = append(corrections, CorrectionMissingCode)
		}
	}

	if env.Action == ActionProvideAnswer && !env.HasCode() {
		env.Code = ""
	}
	if env.Action == ActionProvideAnswer && strings.TrimSpace(env.FinalAnswer) == "" && (!env.HasCode() || forceTerminal) {
		env.FinalAnswer = backfill(env)
		corrections = append(corrections, CorrectionBackfilledAnswer)
	}

	return env, corrections
}

func backfill(env Envelope) string {
	if t := strings.TrimSpace(env.Thought); t != "" {
		return t
	}
	if env.HasCode() {
		return "Here is the final component."
	}
	return apologyAnswer
}
