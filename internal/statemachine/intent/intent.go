// Package intent classifies agent text into agent_question /
// agent_completion / agent_progress (spec.md §4.5), grounded on the
// teacher's ClaudeCodeDetector TUI-pattern idiom
// (internal/agentctl/server/process/claude_code_detector.go): package-level
// regexp.MustCompile vars tried in priority order, case-insensitive,
// language-neutral.
package intent

import (
	"regexp"
	"strings"

	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

// Default question-opening patterns. Resolves spec.md §9's open question
// on "the exact set of question pattern regexes" — documented here,
// overridable via StateMachineConfig.QuestionPatterns.
var defaultQuestionPatterns = []string{
	`\?\s*$`,
	`(?i)^which\b`,
	`(?i)^what\b`,
	`(?i)should i\b`,
	`(?i)do you want\b`,
	`(?i)would you like\b`,
	`(?i)\(y/n\)`,
	`(?i)press enter to`,
}

// Default completion patterns.
var defaultCompletionPatterns = []string{
	`(?i)\bdone\b`,
	`(?i)\bcompleted\b`,
	`(?i)\bfinished\b`,
	`(?i)ready for review`,
	`(?i)^implemented\b`,
}

// Classifier holds the compiled pattern sets used to classify agent text.
// Built once at startup from config (or the defaults above) and shared
// across all Sessions — patterns carry no per-session state.
type Classifier struct {
	question   []*regexp.Regexp
	completion []*regexp.Regexp
}

// New compiles questionPatterns/completionPatterns, falling back to the
// documented defaults when either slice is empty (e.g. zero-value config).
// Invalid patterns are skipped rather than failing startup.
func New(questionPatterns, completionPatterns []string) *Classifier {
	if len(questionPatterns) == 0 {
		questionPatterns = defaultQuestionPatterns
	}
	if len(completionPatterns) == 0 {
		completionPatterns = defaultCompletionPatterns
	}
	return &Classifier{
		question:   compileAll(questionPatterns),
		completion: compileAll(completionPatterns),
	}
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

// ClassifyAgent returns agent_question, agent_completion, or the default
// agent_progress for ambiguous text. Question patterns are checked first:
// a trailing "?" or a question-opening phrase always means the agent is
// waiting on the user, even if the same text also happens to mention a
// completion-shaped word ("done with step 1, which approach next?").
func (c *Classifier) ClassifyAgent(text string) model.TurnIntent {
	trimmed := strings.TrimSpace(text)
	for _, re := range c.question {
		if re.MatchString(trimmed) {
			return model.IntentQuestion
		}
	}
	for _, re := range c.completion {
		if re.MatchString(trimmed) {
			return model.IntentCompletion
		}
	}
	return model.IntentProgress
}

// ClassifyUserTurn disambiguates COMMAND vs ANSWER purely from the
// Task's current state — spec.md §4.5: "USER turns arriving while
// AWAITING_INPUT are ANSWER; otherwise COMMAND." No regex involved.
func ClassifyUserTurn(currentState model.TaskState) model.TurnIntent {
	if currentState == model.TaskAwaitingInput {
		return model.IntentAnswer
	}
	return model.IntentCommand
}

// IsQuestion reports whether text matches the question pattern set,
// independent of ClassifyAgent's completion fallback — used by the
// stop-hook handler's trailing-question check (spec.md §4.5 footnote:
// "stop with a trailing question pattern... routes to AWAITING_INPUT").
func (c *Classifier) IsQuestion(text string) bool {
	return c.ClassifyAgent(text) == model.IntentQuestion
}
