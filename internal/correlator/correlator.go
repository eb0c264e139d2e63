// Package correlator maps inbound hook and transcript events onto a
// canonical Session row, caching the common-case lookups so the hot path
// rarely has to touch the Persistence Store.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

// Resolution is the set of hints a caller (hook receiver or transcript
// watcher) can supply when asking the Correlator to find or create the
// Session an event belongs to. ExternalID is the only field every caller
// is expected to have; the rest disambiguate the six-strategy cascade.
type Resolution struct {
	ExternalID        string
	WorkingDir        string
	PaneHandle        string
	TmuxName          string
	PersonaSlug       string
	PreviousSessionID string
}

// unclaimedSighting is a pane handle reported by the session launcher
// before the agent itself has spoken up with an external id (strategy 4).
type unclaimedSighting struct {
	paneHandle string
	seenAt     time.Time
}

// Correlator implements the six-strategy resolution algorithm. It keeps
// an in-memory index of external-id -> session and project-path ->
// active-sessions so that repeat arrivals for the same session never
// need to read the Store. The index is refreshed by Warm at startup and
// kept current as Resolve discovers or updates sessions.
type Correlator struct {
	st     store.Store
	logger *logging.Logger

	mu              sync.RWMutex
	byExternalID    map[string]*model.Session
	byProjectPath   map[string][]*model.Session // active sessions only
	unclaimedByPane map[string]unclaimedSighting
	unclaimedTTL    time.Duration
}

// New builds a Correlator backed by st. unclaimedTTL bounds how long a
// launcher-reported pane sighting (strategy 4) stays eligible for
// claiming by the first session that reports a matching pane handle.
func New(st store.Store, log *logging.Logger, unclaimedTTL time.Duration) *Correlator {
	if unclaimedTTL <= 0 {
		unclaimedTTL = 30 * time.Second
	}
	return &Correlator{
		st:              st,
		logger:          log,
		byExternalID:    make(map[string]*model.Session),
		byProjectPath:   make(map[string][]*model.Session),
		unclaimedByPane: make(map[string]unclaimedSighting),
		unclaimedTTL:    unclaimedTTL,
	}
}

// Warm loads all active sessions for every known project into the cache.
// Called once at startup (cmd/headspaced). Nothing re-runs it afterwards,
// so sessions the Store has since closed are not evicted from the cache.
func (c *Correlator) Warm(ctx context.Context) error {
	projects, err := c.st.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("correlator: warm: list projects: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range projects {
		sessions, err := c.st.ListActiveSessionsByProject(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("correlator: warm: list sessions for project %s: %w", p.ID, err)
		}
		c.byProjectPath[p.Path] = sessions
		for _, s := range sessions {
			c.byExternalID[s.ExternalID] = s
		}
	}
	return nil
}

// NotePaneSighting records an unclaimed pane handle reported by the
// session launcher, eligible for strategy 4 until it expires.
func (c *Correlator) NotePaneSighting(paneHandle string, seenAt time.Time) {
	if paneHandle == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unclaimedByPane[paneHandle] = unclaimedSighting{paneHandle: paneHandle, seenAt: seenAt}
}

// resolver is one strategy in the cascade. It returns a non-nil session
// when it matches, or (nil, nil) to fall through to the next strategy.
type resolver func(ctx context.Context, r Resolution) (*model.Session, error)

// Resolve runs the six-strategy cascade in order and returns the first
// match. When a match is found by any strategy other than (1), the
// caller-supplied pane handle, tmux name, and last-seen timestamp are
// written back to the Session in one Store transaction. A caller-supplied
// external id is set on the cached Session only; the Store row keeps the
// external id it was created with. Returns store.ErrUnregisteredProject
// if strategy 6 finds no Project for the working directory.
func (c *Correlator) Resolve(ctx context.Context, r Resolution) (*model.Session, error) {
	strategies := []resolver{
		c.resolveByExternalID,       // 1
		c.resolveByExactProjectPath, // 2
		c.resolveByProjectPrefix,    // 3
		c.resolveByUnclaimedPane,    // 4
		c.resolveByPredecessor,      // 5
	}

	for i, strat := range strategies {
		sess, err := strat(ctx, r)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			continue
		}
		if i == 0 {
			// Strategy 1: exact external-id match, no side effects to apply.
			return sess, nil
		}
		return c.applySightingAndCache(ctx, sess, r)
	}

	return c.createForMatchingProject(ctx, r)
}

func (c *Correlator) resolveByExternalID(_ context.Context, r Resolution) (*model.Session, error) {
	if r.ExternalID == "" {
		return nil, nil
	}
	c.mu.RLock()
	sess, ok := c.byExternalID[r.ExternalID]
	c.mu.RUnlock()
	if ok {
		return sess, nil
	}
	return nil, nil
}

func (c *Correlator) resolveByExactProjectPath(_ context.Context, r Resolution) (*model.Session, error) {
	if r.WorkingDir == "" {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates := c.byProjectPath[r.WorkingDir]
	if len(candidates) == 0 {
		return nil, nil
	}
	return mostRecentlySeen(candidates), nil
}

func (c *Correlator) resolveByProjectPrefix(_ context.Context, r Resolution) (*model.Session, error) {
	if r.WorkingDir == "" {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var bestPath string
	var bestCandidates []*model.Session
	for path, sessions := range c.byProjectPath {
		if len(sessions) == 0 {
			continue
		}
		if !isPathPrefix(path, r.WorkingDir) {
			continue
		}
		if len(path) > len(bestPath) {
			bestPath = path
			bestCandidates = sessions
		}
	}
	if bestCandidates == nil {
		return nil, nil
	}
	return mostRecentlySeen(bestCandidates), nil
}

func (c *Correlator) resolveByUnclaimedPane(_ context.Context, r Resolution) (*model.Session, error) {
	if r.PaneHandle == "" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sighting, ok := c.unclaimedByPane[r.PaneHandle]
	if !ok {
		return nil, nil
	}
	if time.Since(sighting.seenAt) > c.unclaimedTTL {
		delete(c.unclaimedByPane, r.PaneHandle)
		return nil, nil
	}
	delete(c.unclaimedByPane, r.PaneHandle)
	// The launcher sighting only tells us the pane handle; the Session it
	// belongs to must already exist from a previous resolution (usually
	// created moments earlier by the launcher itself) and is looked up by
	// pane handle directly against the Store on this (rare) cache miss.
	sessions, err := c.st.ListSessionsByPanePrefix(context.Background(), r.PaneHandle, int(c.unclaimedTTL.Seconds()))
	if err != nil || len(sessions) == 0 {
		return nil, nil
	}
	return mostRecentlySeen(sessions), nil
}

func (c *Correlator) resolveByPredecessor(ctx context.Context, r Resolution) (*model.Session, error) {
	if r.PreviousSessionID == "" {
		return nil, nil
	}
	prev, err := c.st.GetSession(ctx, r.PreviousSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("correlator: resolve predecessor: %w", err)
	}
	proj, err := c.st.GetProject(ctx, prev.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("correlator: resolve predecessor project: %w", err)
	}
	c.mu.RLock()
	candidates := c.byProjectPath[proj.Path]
	c.mu.RUnlock()
	if len(candidates) > 0 {
		return mostRecentlySeen(candidates), nil
	}
	return nil, nil
}

// createForMatchingProject is strategy 6: create a new Session if, and
// only if, a Project exists whose path matches the working directory.
func (c *Correlator) createForMatchingProject(ctx context.Context, r Resolution) (*model.Session, error) {
	if r.WorkingDir == "" {
		return nil, store.ErrUnregisteredProject
	}
	proj, err := c.st.GetProjectByPath(ctx, r.WorkingDir)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("resolve: no project registered for working directory",
				zap.String("working_dir", r.WorkingDir))
			return nil, store.ErrUnregisteredProject
		}
		return nil, fmt.Errorf("correlator: lookup project by path: %w", err)
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:         uuid.NewString(),
		ProjectID:  proj.ID,
		ExternalID: r.ExternalID,
		PaneHandle: r.PaneHandle,
		TmuxName:   r.TmuxName,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if r.PreviousSessionID != "" {
		sess.PredecessorID = r.PreviousSessionID
	}

	if err := c.st.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateSession(ctx, sess)
	}); err != nil {
		return nil, fmt.Errorf("correlator: create session: %w", err)
	}

	c.mu.Lock()
	c.byExternalID[sess.ExternalID] = sess
	c.byProjectPath[proj.Path] = append(c.byProjectPath[proj.Path], sess)
	c.mu.Unlock()

	c.logger.Info("created session for matched project",
		zap.String("session_id", sess.ID), zap.String("project_path", proj.Path))
	return sess, nil
}

// applySightingAndCache writes the caller's pane handle / tmux name /
// last-seen update to the Store in one transaction, for every strategy
// but (1). The caller's external id is applied to the cached Session and
// the external-id index only; the Store row's external_id is not updated.
func (c *Correlator) applySightingAndCache(ctx context.Context, sess *model.Session, r Resolution) (*model.Session, error) {
	now := time.Now().UTC()
	if err := c.st.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertSessionSighting(ctx, sess.ID, r.PaneHandle, r.TmuxName, now)
	}); err != nil {
		return nil, fmt.Errorf("correlator: apply sighting: %w", err)
	}

	sess.LastSeenAt = now
	if r.PaneHandle != "" {
		sess.PaneHandle = r.PaneHandle
	}
	if r.TmuxName != "" {
		sess.TmuxName = r.TmuxName
	}
	if r.ExternalID != "" {
		sess.ExternalID = r.ExternalID
	}

	c.mu.Lock()
	if sess.ExternalID != "" {
		c.byExternalID[sess.ExternalID] = sess
	}
	c.mu.Unlock()

	return sess, nil
}

func mostRecentlySeen(sessions []*model.Session) *model.Session {
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.LastSeenAt.After(best.LastSeenAt) {
			best = s
		}
	}
	return best
}

func isPathPrefix(prefix, full string) bool {
	if prefix == full {
		return true
	}
	return strings.HasPrefix(full, strings.TrimSuffix(prefix, "/")+"/")
}
