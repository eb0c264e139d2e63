// Package transcript tails each registered Session's JSONL transcript
// file and reconciles lines the Hook Receiver may have missed into
// Turns via the State Machine (spec.md §4.4). Grounded on the teacher's
// Watcher Start/Stop/IsRunning shape
// (internal/orchestrator/watcher/watcher.go), but driven by file polling
// instead of bus subscriptions since this Watcher's input is the
// filesystem, not the event bus.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/correlator"
	"github.com/samotage/claude-headspace-sub014/internal/events"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

const (
	fastPollInterval  = 2 * time.Second
	slowPollInterval  = 60 * time.Second
	hookSilenceWindow = 300 * time.Second
	inactiveThreshold = 10 * time.Minute
)

// line is the JSONL record shape a watched transcript file carries, one
// record per agent-or-user utterance.
type line struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Watcher is the Transcript Watcher. One Watcher instance serves every
// registered Session; per-session position is tracked in cursors.
type Watcher struct {
	st   store.Store
	corr *correlator.Correlator
	sm   *statemachine.Machine
	eb   bus.EventBus
	log  *logging.Logger

	mu           sync.Mutex
	cursors      map[string]int64 // sessionID -> byte offset
	lastHookSeen map[string]time.Time
	notifiedIdle map[string]bool
	fsw          *fsnotify.Watcher
	cancel       context.CancelFunc
	done         chan struct{}
	running      bool
}

// New builds a Watcher.
func New(st store.Store, corr *correlator.Correlator, sm *statemachine.Machine, eb bus.EventBus, log *logging.Logger) *Watcher {
	return &Watcher{
		st:           st,
		corr:         corr,
		sm:           sm,
		eb:           eb,
		log:          log,
		cursors:      make(map[string]int64),
		lastHookSeen: make(map[string]time.Time),
		notifiedIdle: make(map[string]bool),
	}
}

// NoteHookAccepted lets the Hook Receiver tell the Watcher a hook just
// landed for sessionID, resetting its poll cadence to the slow interval
// and clearing any pending idle notification.
func (w *Watcher) NoteHookAccepted(sessionID string) {
	w.mu.Lock()
	w.lastHookSeen[sessionID] = time.Now()
	delete(w.notifiedIdle, sessionID)
	w.mu.Unlock()
}

// Start begins the poll loop. Safe to call once; a second call is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	done := w.done
	w.mu.Unlock()

	go w.run(runCtx, done)
	return nil
}

// Stop halts the poll loop and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	done := w.done
	fsw := w.fsw
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

// IsRunning reports whether the poll loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(fastPollInterval)
	defer ticker.Stop()
	w.scanAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scanAll(ctx)
			}
		case err, ok := <-w.fsw.Errors:
			if ok {
				w.log.Warn("transcript: fsnotify error", zap.Error(err))
			}
		case <-ticker.C:
			w.scanAll(ctx)
			ticker.Reset(w.nextInterval())
		}
	}
}

// nextInterval implements spec.md §4.4's fallback schedule: 60s while at
// least one watched session has had a hook within the last 300s, 2s once
// every watched session has gone quiet past that window.
func (w *Watcher) nextInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for _, seen := range w.lastHookSeen {
		if now.Sub(seen) < hookSilenceWindow {
			return slowPollInterval
		}
	}
	return fastPollInterval
}

func (w *Watcher) scanAll(ctx context.Context) {
	projects, err := w.st.ListProjects(ctx)
	if err != nil {
		w.log.Warn("transcript: list projects failed", zap.Error(err))
		return
	}
	for _, p := range projects {
		sessions, err := w.st.ListActiveSessionsByProject(ctx, p.ID)
		if err != nil {
			w.log.Warn("transcript: list sessions failed", zap.Error(err), zap.String("project_id", p.ID))
			continue
		}
		for _, sess := range sessions {
			w.checkIdle(ctx, sess)
			if sess.TranscriptPath == "" {
				continue
			}
			w.watchPath(sess.TranscriptPath)
			w.scanSession(ctx, sess)
		}
	}
}

func (w *Watcher) watchPath(path string) {
	if w.fsw == nil {
		return
	}
	_ = w.fsw.Add(path)
}

// checkIdle emits session_inactive once per quiet period once a Session
// has gone inactiveThreshold past its last sighting.
func (w *Watcher) checkIdle(ctx context.Context, sess *model.Session) {
	if time.Since(sess.LastSeenAt) < inactiveThreshold {
		return
	}
	w.mu.Lock()
	if w.notifiedIdle[sess.ID] {
		w.mu.Unlock()
		return
	}
	w.notifiedIdle[sess.ID] = true
	w.mu.Unlock()

	if err := w.st.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendEvent(ctx, &model.Event{
			ID:        uuid.NewString(),
			ProjectID: sess.ProjectID,
			SessionID: sess.ID,
			Type:      model.EventSessionInactive,
			CreatedAt: time.Now().UTC(),
		})
	}); err != nil {
		w.log.Warn("transcript: record session_inactive failed", zap.Error(err), zap.String("session_id", sess.ID))
		return
	}
	if w.eb != nil {
		_ = w.eb.Publish(ctx, events.BuildSessionWildcardSubject(sess.ID),
			bus.NewEvent("session.inactive", "transcript", map[string]any{"session_id": sess.ID}))
	}
}

func (w *Watcher) scanSession(ctx context.Context, sess *model.Session) {
	f, err := os.Open(sess.TranscriptPath)
	if err != nil {
		return
	}
	defer f.Close()

	w.mu.Lock()
	offset := w.cursors[sess.ID]
	w.mu.Unlock()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < offset {
		// File truncated or rotated underneath us — restart from the top.
		offset = 0
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var consumed int64
	for scanner.Scan() {
		raw := scanner.Bytes()
		consumed += int64(len(raw)) + 1 // newline the scanner stripped
		text := strings.TrimSpace(string(raw))
		if text == "" {
			continue
		}
		var parsed line
		if err := json.Unmarshal(raw, &parsed); err != nil {
			w.log.Warn("transcript: malformed line, skipping", zap.Error(err), zap.String("session_id", sess.ID))
			continue
		}
		w.reconcileLine(ctx, sess, parsed)
	}

	w.mu.Lock()
	w.cursors[sess.ID] = offset + consumed
	w.mu.Unlock()
}

func (w *Watcher) reconcileLine(ctx context.Context, sess *model.Session, l line) {
	if l.Text == "" {
		return
	}
	actor := model.ActorAgent
	if l.Role == "user" {
		actor = model.ActorUser
	}
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	hash := contentHash(actor, l.Text)

	if task, err := w.st.GetOpenTask(ctx, sess.ID); err == nil {
		turns, lerr := w.st.ListTurnsByTask(ctx, task.ID)
		if lerr == nil {
			for _, t := range turns {
				if t.ContentHash != hash {
					continue
				}
				// Already recorded (by the hook path, or an earlier
				// reconciliation pass): first-writer-wins on content,
				// upgrade only the provenance fields (spec.md §9 open
				// question resolution).
				if err := w.st.WithTx(ctx, func(tx store.Tx) error {
					return tx.UpdateTurnTimestamp(ctx, t.ID, model.TimestampSourceTranscript, ts)
				}); err != nil {
					w.log.Warn("transcript: upgrade timestamp failed", zap.Error(err), zap.String("turn_id", t.ID))
				}
				return
			}
		}
	}

	// No existing Turn carries this content hash — the Hook Receiver
	// never saw it (a missed or delayed delivery). Route it through the
	// same State Machine entry points a hook would use.
	var err error
	if actor == model.ActorUser {
		_, err = w.sm.ApplyUserTurn(ctx, sess.ID, l.Text, ts, model.TimestampSourceTranscript)
	} else {
		_, err = w.sm.ApplyAgentText(ctx, sess.ID, l.Text, ts, model.TimestampSourceTranscript)
	}
	if err != nil {
		w.log.Warn("transcript: reconcile line failed", zap.Error(err), zap.String("session_id", sess.ID))
	}
}
