package broadcast

import (
	"sync"
	"time"
)

// Filter is the server-side (project, session, types) predicate spec.md
// §6 requires — empty fields match everything.
type Filter struct {
	ProjectID string
	SessionID string
	Types     map[string]bool // event kind -> wanted; nil/empty means all
}

func (f Filter) matches(fr Frame) bool {
	if f.ProjectID != "" && fr.projectID() != f.ProjectID {
		return false
	}
	if f.SessionID != "" && fr.sessionID() != f.SessionID {
		return false
	}
	if len(f.Types) > 0 && !f.Types[fr.Kind] {
		return false
	}
	return true
}

// Subscriber is one live `GET /api/events` connection. Grounded on the
// teacher's Client (internal/gateway/websocket/client.go): a bounded send
// channel plus a last-write-ok timestamp the reaper inspects, reworked
// for one-way SSE delivery instead of a duplex websocket connection.
type Subscriber struct {
	ID     string
	filter Filter

	send chan Frame

	mu          sync.Mutex
	lastWriteOK time.Time
	closed      bool
}

func newSubscriber(id string, bufSize int, filter Filter) *Subscriber {
	return &Subscriber{
		ID:          id,
		filter:      filter,
		send:        make(chan Frame, bufSize),
		lastWriteOK: time.Now(),
	}
}

// deliver enqueues fr if it passes the subscriber's filter. On a full
// buffer it drops the oldest queued frame and replaces it with a
// `dropped` marker instead of the teacher's silent "default: do nothing"
// — spec.md requires dropped buffers to be surfaced, not silently lost.
func (s *Subscriber) deliver(fr Frame) {
	if !s.filter.matches(fr) {
		return
	}
	select {
	case s.send <- fr:
		return
	default:
	}
	select {
	case <-s.send:
	default:
	}
	select {
	case s.send <- Frame{ID: fr.ID, Dropped: true}:
	default:
	}
}

func (s *Subscriber) noteWriteOK() {
	s.mu.Lock()
	s.lastWriteOK = time.Now()
	s.mu.Unlock()
}

func (s *Subscriber) staleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastWriteOK)
}
