package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
	"github.com/samotage/claude-headspace-sub014/internal/config"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
	"github.com/samotage/claude-headspace-sub014/internal/stringutil"
)

const (
	minSnippetLen    = 15
	maxSnippetLen    = 60
	snippetThreshold = 40 // spec.md §4.7 step 7
)

// Result is what a verified send-text operation produced.
type Result struct {
	TaskID  string
	TurnID  string
	State   model.TaskState
	Dropped bool
}

// Bridge is the Terminal Input Bridge (spec.md §4.7).
type Bridge struct {
	st  store.Store
	sm  *statemachine.Machine
	cfg config.BridgeConfig
	log *logging.Logger

	newPane func(target string) Pane
}

// New builds a Bridge. cfg supplies BaseTypeDelayMS and SubmitRetries.
func New(st store.Store, sm *statemachine.Machine, cfg config.BridgeConfig, log *logging.Logger) *Bridge {
	if cfg.SubmitRetries <= 0 {
		cfg.SubmitRetries = 3
	}
	return &Bridge{st: st, sm: sm, cfg: cfg, log: log, newPane: func(target string) Pane { return NewTmuxPane(target) }}
}

// SendText implements spec.md §4.7's 8-step send-text contract: resolve
// the pane, type text, submit, verify, retry on failure, then drive the
// State Machine on verified success.
func (b *Bridge) SendText(ctx context.Context, sessionID, text string) (*Result, error) {
	sess, err := b.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperr.NotFound("bridge: unknown session %s", sessionID)
	}
	if sess.PaneHandle == "" {
		return nil, apperr.PaneUnavailable("bridge: session %s has no live pane", sessionID)
	}
	pane := b.newPane(sess.PaneHandle)

	var lastLines []string
	for attempt := 0; attempt <= b.cfg.SubmitRetries; attempt++ {
		b.dismissGhost(ctx, pane) // step 2: dismiss any pre-existing overlay

		if err := pane.SendLiteral(ctx, text); err != nil {
			return nil, apperr.SendFailed("bridge: type failed: %v", err)
		}
		if hasGhost, _ := b.checkGhost(ctx, pane, text); hasGhost {
			b.dismissGhost(ctx, pane) // step 5
		}

		time.Sleep(submitDelay(b.cfg.BaseTypeDelayMS, len(text)))

		if err := pane.SendKey(ctx, "Enter"); err != nil {
			return nil, apperr.SendFailed("bridge: submit failed: %v", err)
		}

		ok, lines, err := b.verify(ctx, pane, text)
		lastLines = lines
		if err != nil {
			return nil, apperr.PaneUnavailable("bridge: verify failed: %v", err)
		}
		if ok {
			return b.onAccepted(ctx, sess.ID, text)
		}
		b.log.Warn("bridge: submission not verified, retrying",
			zap.String("session_id", sessionID), zap.Int("attempt", attempt))
	}

	b.log.Warn("bridge: send_failed, pane dump follows",
		zap.String("session_id", sessionID), zap.Strings("pane_lines", truncateLines(lastLines)))
	return nil, apperr.SendFailed("bridge: exhausted %d retries for session %s", b.cfg.SubmitRetries, sessionID)
}

// submitDelay implements spec.md §4.7 step 4: base_delay + max(0, len(text)-200)/10 ms.
func submitDelay(baseMS, textLen int) time.Duration {
	extra := textLen - 200
	if extra < 0 {
		extra = 0
	}
	return time.Duration(baseMS+extra/10) * time.Millisecond
}

func (b *Bridge) dismissGhost(ctx context.Context, pane Pane) {
	_ = pane.SendKey(ctx, "Escape")
}

func (b *Bridge) checkGhost(ctx context.Context, pane Pane, typed string) (bool, []string) {
	raw, err := pane.Capture(ctx)
	if err != nil {
		return false, nil
	}
	lines := render(raw, 0, 0)
	return hasTrailingGhostText(lines, typed), lines
}

// verify implements spec.md §4.7 step 7: the submission counts as accepted
// when the needle no longer appears on the pane's last non-blank line. For
// text at or above snippetThreshold the needle is the tail snippet; shorter
// text uses the whole typed string as the needle. No before/after comparison
// of the pane content is made for short text.
func (b *Bridge) verify(ctx context.Context, pane Pane, text string) (bool, []string, error) {
	raw, err := pane.Capture(ctx)
	if err != nil {
		return false, nil, err
	}
	lines := render(raw, 0, 0)

	needle := text
	if len(text) >= snippetThreshold {
		needle = tailSnippet(text)
	}
	return !lastLineContains(lines, needle), lines, nil
}

// truncateLines clips each pane row before it hits a log line, so a
// wide pane full of box-drawing output doesn't blow out the WARN entry.
func truncateLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = stringutil.TruncateStringWithEllipsis(l, 120)
	}
	return out
}

func tailSnippet(text string) string {
	n := min(len(text), maxSnippetLen)
	n = max(n, min(len(text), minSnippetLen))
	return text[len(text)-n:]
}

func lastLineContains(lines []string, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(lastNonBlank(lines), needle)
}

// onAccepted records the resulting Turn and drives the State Machine —
// spec.md §4.7's "same unit of work" post-success side effects.
func (b *Bridge) onAccepted(ctx context.Context, sessionID, text string) (*Result, error) {
	outcome, err := b.sm.ApplyUserTurn(ctx, sessionID, text, time.Now().UTC(), model.TimestampSourceHook)
	if err != nil {
		return nil, fmt.Errorf("bridge: apply user turn: %w", err)
	}
	if outcome.Dropped {
		return &Result{Dropped: true}, nil
	}
	return &Result{TaskID: outcome.TaskID, TurnID: outcome.TurnID, State: outcome.To}, nil
}
