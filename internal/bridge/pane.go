// Package bridge is the Terminal Input Bridge (spec.md §4.7): it delivers
// user text into a Session's live terminal pane, verifies the agent
// accepted it, and hands the result to the State Machine as a Turn.
//
// Grounded on the teacher's internal/agentctl/server/process package,
// which solves the adjacent problem of allocating a PTY and reading it
// back through a vt10x virtual screen (pty_handle.go's PtyHandle
// interface abstracting Unix/Windows, status_tracker.go's vt10x wiring).
// This package does not allocate a pty — per spec.md §1 the pane
// already exists as a tmux pane owned by the launched agent process —
// so Pane plays the same abstracting role PtyHandle does, backed by
// `tmux capture-pane`/`send-keys` instead of a raw file descriptor.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Pane is the minimal surface the Bridge needs from a live terminal
// pane: read its rendered screen back, and inject keystrokes into it.
type Pane interface {
	// Capture returns the pane's current screen contents, including
	// ANSI SGR escape sequences, so a vt10x.Terminal can render
	// attributes the same way the teacher's StatusTracker does for a
	// raw PTY stream.
	Capture(ctx context.Context) ([]byte, error)
	// Size returns the pane's current column/row count.
	Size(ctx context.Context) (cols, rows int, err error)
	// SendLiteral writes s to the pane without shell interpretation.
	SendLiteral(ctx context.Context, s string) error
	// SendKey sends a single named key (e.g. "Escape", "Enter").
	SendKey(ctx context.Context, key string) error
}

// TmuxPane is a Pane backed by a tmux target pane (spec.md's
// `pane_handle`/`tmux_session` Session fields). Every operation shells
// out to the tmux client, the same boundary the teacher crosses with
// creack/pty for a directly-owned PTY.
type TmuxPane struct {
	target string // tmux pane-id, e.g. "%12"
	run    func(ctx context.Context, args ...string) ([]byte, error)
}

// NewTmuxPane builds a Pane attached to target, the tmux pane-id
// recorded on the Session (hookproto.Base.PaneHandle /
// model.Session.PaneHandle).
func NewTmuxPane(target string) *TmuxPane {
	return &TmuxPane{target: target, run: runTmux}
}

func runTmux(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("bridge: tmux %s: %w: %s", strings.Join(args, " "), err, errb.String())
	}
	return out.Bytes(), nil
}

func (p *TmuxPane) Capture(ctx context.Context) ([]byte, error) {
	return p.run(ctx, "capture-pane", "-p", "-e", "-t", p.target)
}

func (p *TmuxPane) Size(ctx context.Context) (int, int, error) {
	out, err := p.run(ctx, "display-message", "-p", "-t", p.target, "#{pane_width}x#{pane_height}")
	if err != nil {
		return 0, 0, err
	}
	dims := strings.TrimSpace(string(out))
	cols, rows, ok := strings.Cut(dims, "x")
	if !ok {
		return 80, 24, nil
	}
	c, cerr := strconv.Atoi(cols)
	r, rerr := strconv.Atoi(rows)
	if cerr != nil || rerr != nil {
		return 80, 24, nil
	}
	return c, r, nil
}

func (p *TmuxPane) SendLiteral(ctx context.Context, s string) error {
	_, err := p.run(ctx, "send-keys", "-t", p.target, "-l", "--", s)
	return err
}

func (p *TmuxPane) SendKey(ctx context.Context, key string) error {
	_, err := p.run(ctx, "send-keys", "-t", p.target, key)
	return err
}
