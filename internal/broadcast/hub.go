package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

// ringSize bounds how many recent frames the Hub keeps for
// Last-Event-ID replay on reconnect (spec.md §6's "best-effort" prefix).
const ringSize = 512

// ErrFull is returned by Subscribe when the subscriber cap is reached.
type ErrFull struct{}

func (ErrFull) Error() string { return "broadcast: subscriber cap reached" }

type registration struct {
	sub    *Subscriber
	result chan error
}

// Hub is the Event Broadcaster's fan-out core. Grounded on the teacher's
// Hub (internal/gateway/websocket/hub.go): register/unregister channels
// drained by a single Run goroutine, same closeAllClients-on-shutdown
// shape, generalized from per-task subscriber maps to a single
// (project, session, types) Filter evaluated per subscriber.
//
// Frame ids are Hub-global and monotonically increasing, not per
// subscription — a reconnecting client gets a brand-new Subscriber
// whose own counter would restart at 1 and make Last-Event-ID replay
// meaningless. This is a deliberate deviation from a literal reading of
// "per-subscription counter"; see DESIGN.md.
type Hub struct {
	eb  bus.EventBus
	log *logging.Logger

	maxSubscribers int
	bufSize        int

	register   chan registration
	unregister chan *Subscriber
	incoming   chan Frame

	mu      sync.RWMutex
	clients map[*Subscriber]bool
	ring    []Frame
	nextID  atomic.Int64

	busSub bus.Subscription
}

// NewHub builds a Hub. Call Run to start its dispatch loop.
func NewHub(eb bus.EventBus, maxSubscribers, subscriberBufferSize int, log *logging.Logger) *Hub {
	if maxSubscribers <= 0 {
		maxSubscribers = 256
	}
	if subscriberBufferSize <= 0 {
		subscriberBufferSize = 100
	}
	return &Hub{
		eb:             eb,
		log:            log,
		maxSubscribers: maxSubscribers,
		bufSize:        subscriberBufferSize,
		register:       make(chan registration),
		unregister:     make(chan *Subscriber),
		incoming:       make(chan Frame, 256),
		clients:        make(map[*Subscriber]bool),
	}
}

// Run subscribes to every bus subject and drains the Hub's channels
// until ctx is cancelled, mirroring the teacher's Hub.Run select loop.
func (h *Hub) Run(ctx context.Context) {
	sub, err := h.eb.Subscribe(">", func(_ context.Context, ev *bus.Event) error {
		h.incoming <- Frame{Kind: ev.Type, Payload: ev.Data}
		return nil
	})
	if err != nil {
		h.log.Error("broadcast: bus subscribe failed", zap.Error(err))
	}
	h.busSub = sub

	h.log.Info("broadcast: hub started")
	defer h.log.Info("broadcast: hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxSubscribers {
				h.mu.Unlock()
				reg.result <- ErrFull{}
				continue
			}
			h.clients[reg.sub] = true
			h.mu.Unlock()
			reg.result <- nil
		case sub := <-h.unregister:
			h.drop(sub)
		case fr := <-h.incoming:
			h.dispatch(fr)
		}
	}
}

func (h *Hub) dispatch(fr Frame) {
	fr.ID = h.nextID.Add(1)

	h.mu.Lock()
	h.ring = append(h.ring, fr)
	if len(h.ring) > ringSize {
		h.ring = h.ring[len(h.ring)-ringSize:]
	}
	for sub := range h.clients {
		sub.deliver(fr)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		close(sub.send)
		delete(h.clients, sub)
	}
	if h.busSub != nil {
		_ = h.busSub.Unsubscribe()
	}
}

func (h *Hub) drop(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
	sub.mu.Unlock()
}

// Subscribe registers a new Subscriber matching filter and returns it
// with its buffer pre-loaded with any ring-buffered frames newer than
// lastEventID (spec.md §6's Last-Event-ID resume). Returns ErrFull once
// MaxSubscribers is reached — the HTTP handler maps this to 503.
func (h *Hub) Subscribe(id string, filter Filter, lastEventID int64) (*Subscriber, error) {
	sub := newSubscriber(id, h.bufSize, filter)

	h.mu.RLock()
	var replay []Frame
	if lastEventID > 0 {
		for _, fr := range h.ring {
			if fr.ID > lastEventID {
				replay = append(replay, fr)
			}
		}
	}
	h.mu.RUnlock()

	result := make(chan error, 1)
	h.register <- registration{sub: sub, result: result}
	if err := <-result; err != nil {
		return nil, err
	}
	for _, fr := range replay {
		sub.deliver(fr)
	}
	return sub, nil
}

// Unsubscribe removes sub from the Hub. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.unregister <- sub
}

// SubscriberCount reports how many subscribers are currently registered
// — surfaced on GET /health.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReapStale unregisters any subscriber whose last successful write is
// older than grace — called by the broadcast-reaper Named worker.
func (h *Hub) ReapStale(grace time.Duration) {
	h.mu.RLock()
	var stale []*Subscriber
	for sub := range h.clients {
		if sub.staleFor() > grace {
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range stale {
		h.Unsubscribe(sub)
	}
}
