package bridge

import (
	"github.com/tuzig/vt10x"
)

// render feeds raw (ANSI-encoded) pane bytes through a fresh vt10x
// terminal and returns the visible lines, the same Cell-walking idiom
// the teacher's StatusTracker.extractTerminalContent uses for a live
// PTY stream (internal/agentctl/server/process/status_tracker.go).
func render(raw []byte, cols, rows int) []string {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	term := vt10x.New(vt10x.WithSize(cols, rows))
	_, _ = term.Write(raw)

	lines := make([]string, rows)
	for row := 0; row < rows; row++ {
		chars := make([]rune, cols)
		for col := 0; col < cols; col++ {
			g := term.Cell(col, row)
			if g.Char == 0 {
				chars[col] = ' '
			} else {
				chars[col] = g.Char
			}
		}
		lines[row] = string(chars)
	}
	return lines
}

// lastNonBlank returns the last line in lines with visible (trimmed)
// content, or "" if every line is blank.
func lastNonBlank(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := trimRight(lines[i])
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func trimRight(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[:end]
}
