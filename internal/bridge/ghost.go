package bridge

import "strings"

// hasTrailingGhostText reports whether the pane's last visible line
// carries extra rendered content after the text we just typed — the
// signature of an autocomplete suggestion the agent's input line
// appended past the cursor. The teacher's detectors
// (claude_code_detector.go's tipPattern/separatorPattern) work the same
// way: scan the rendered lines for a textual signature rather than
// reaching into vt10x's cell-attribute bits, which the teacher's own
// code never inspects beyond Glyph.Char (see DESIGN.md).
func hasTrailingGhostText(lines []string, typed string) bool {
	if typed == "" {
		return false
	}
	last := lastNonBlank(lines)
	idx := strings.LastIndex(last, typed)
	if idx == -1 {
		return false
	}
	rest := last[idx+len(typed):]
	return strings.TrimSpace(rest) != ""
}
