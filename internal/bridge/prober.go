package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/events"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/store"
)

// Prober is the Bridge's separate "is the pane alive" health check
// (spec.md §4.7's last paragraph) — distinct from send-text so a busy
// or dead pane never blocks availability reporting.
type Prober struct {
	st      store.Store
	eb      bus.EventBus
	log     *logging.Logger
	newPane func(target string) Pane

	mu    sync.Mutex
	known map[string]bool // sessionID -> last reported alive state
}

// NewProber builds a Prober sharing the Bridge's pane-construction strategy.
func NewProber(st store.Store, eb bus.EventBus, log *logging.Logger) *Prober {
	return &Prober{st: st, eb: eb, log: log, newPane: func(target string) Pane { return NewTmuxPane(target) }, known: make(map[string]bool)}
}

// IsAlive issues a lightweight no-op pane read distinct from send-text.
func (p *Prober) IsAlive(ctx context.Context, sessionID string) (bool, error) {
	sess, err := p.st.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.PaneHandle == "" {
		return false, nil
	}
	pane := p.newPane(sess.PaneHandle)
	if _, _, err := pane.Size(ctx); err != nil {
		return false, nil
	}
	return true, nil
}

// ProbeAll runs IsAlive for every active Session and publishes
// availability_changed only when a Session's alive state flips, so the
// bus isn't flooded with a redundant event on every tick.
func (p *Prober) ProbeAll(ctx context.Context) error {
	projects, err := p.st.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, proj := range projects {
		sessions, err := p.st.ListActiveSessionsByProject(ctx, proj.ID)
		if err != nil {
			p.log.Warn("bridge: probe list sessions failed", zap.Error(err), zap.String("project_id", proj.ID))
			continue
		}
		for _, sess := range sessions {
			alive, _ := p.IsAlive(ctx, sess.ID)
			p.reportIfChanged(ctx, sess.ID, alive)
		}
	}
	return nil
}

func (p *Prober) reportIfChanged(ctx context.Context, sessionID string, alive bool) {
	p.mu.Lock()
	prev, seen := p.known[sessionID]
	p.known[sessionID] = alive
	p.mu.Unlock()
	if seen && prev == alive {
		return
	}
	if p.eb == nil {
		return
	}
	subject := events.BuildSessionWildcardSubject(sessionID)
	if err := p.eb.Publish(ctx, subject, bus.NewEvent(events.AvailabilityChanged, "bridge",
		map[string]any{"session_id": sessionID, "alive": alive})); err != nil {
		p.log.Warn("bridge: publish availability_changed failed", zap.Error(err), zap.String("session_id", sessionID))
	}
}
