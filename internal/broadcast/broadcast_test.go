package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

func newTestHub(t *testing.T, maxSubscribers, bufSize int) (*Hub, bus.EventBus) {
	t.Helper()
	eb := bus.NewMemoryEventBus(logging.Default())
	h := NewHub(eb, maxSubscribers, bufSize, logging.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, eb
}

func recvWithTimeout(t *testing.T, ch <-chan Frame, d time.Duration) (Frame, bool) {
	t.Helper()
	select {
	case fr, ok := <-ch:
		return fr, ok
	case <-time.After(d):
		return Frame{}, false
	}
}

func TestFilterMatchesEmptyMatchesEverything(t *testing.T) {
	var f Filter
	require.True(t, f.matches(Frame{Payload: map[string]any{"project_id": "p1"}}))
}

func TestFilterMatchesProjectAndTypes(t *testing.T) {
	f := Filter{ProjectID: "p1", Types: map[string]bool{"task_opened": true}}
	require.True(t, f.matches(Frame{Kind: "task_opened", Payload: map[string]any{"project_id": "p1"}}))
	require.False(t, f.matches(Frame{Kind: "task_opened", Payload: map[string]any{"project_id": "p2"}}))
	require.False(t, f.matches(Frame{Kind: "task_closed", Payload: map[string]any{"project_id": "p1"}}))
}

// Overflow: the oldest queued frame is dropped and replaced with a
// `dropped` marker rather than silently lost.
func TestSubscriberDeliverDropsOldestOnOverflow(t *testing.T) {
	sub := newSubscriber("s1", 2, Filter{})
	sub.deliver(Frame{ID: 1, Kind: "a"})
	sub.deliver(Frame{ID: 2, Kind: "b"})
	sub.deliver(Frame{ID: 3, Kind: "c"}) // triggers overflow

	first := <-sub.send
	require.Equal(t, int64(2), first.ID, "oldest frame (id 1) must have been dropped")

	second := <-sub.send
	require.True(t, second.Dropped)
	require.Equal(t, int64(3), second.ID)
}

func TestSubscriberDeliverIgnoresNonMatchingFrames(t *testing.T) {
	sub := newSubscriber("s1", 2, Filter{ProjectID: "p1"})
	sub.deliver(Frame{ID: 1, Kind: "a", Payload: map[string]any{"project_id": "p2"}})
	select {
	case <-sub.send:
		t.Fatal("non-matching frame should not be delivered")
	default:
	}
}

func TestHubDeliversEventPublishedOnTheBus(t *testing.T) {
	h, eb := newTestHub(t, 10, 4)

	sub, err := h.Subscribe("sub-1", Filter{}, 0)
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	require.NoError(t, eb.Publish(context.Background(), "task.opened",
		bus.NewEvent("task_opened", "test", map[string]interface{}{"task_id": "t1"})))

	fr, ok := recvWithTimeout(t, sub.send, time.Second)
	require.True(t, ok)
	require.Equal(t, "task_opened", fr.Kind)
	require.Equal(t, "t1", fr.Payload["task_id"])
}

func TestHubSubscribeReplaysRingBufferSinceLastEventID(t *testing.T) {
	h, _ := newTestHub(t, 10, 16)

	h.dispatch(Frame{Kind: "a"}) // id 1
	h.dispatch(Frame{Kind: "b"}) // id 2
	h.dispatch(Frame{Kind: "c"}) // id 3

	sub, err := h.Subscribe("sub-1", Filter{}, 1)
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	first, ok := recvWithTimeout(t, sub.send, time.Second)
	require.True(t, ok)
	require.Equal(t, "b", first.Kind)

	second, ok := recvWithTimeout(t, sub.send, time.Second)
	require.True(t, ok)
	require.Equal(t, "c", second.Kind)
}

func TestHubSubscribeReturnsErrFullAtCap(t *testing.T) {
	h, _ := newTestHub(t, 1, 4)

	sub1, err := h.Subscribe("sub-1", Filter{}, 0)
	require.NoError(t, err)
	defer h.Unsubscribe(sub1)

	_, err = h.Subscribe("sub-2", Filter{}, 0)
	require.Error(t, err)
	require.IsType(t, ErrFull{}, err)
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h, _ := newTestHub(t, 10, 4)
	sub, err := h.Subscribe("sub-1", Filter{}, 0)
	require.NoError(t, err)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // second call must not panic or block

	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubReapStaleUnsubscribesPastGrace(t *testing.T) {
	h, _ := newTestHub(t, 10, 4)
	sub, err := h.Subscribe("sub-1", Filter{}, 0)
	require.NoError(t, err)
	sub.lastWriteOK = time.Now().Add(-time.Hour)

	h.ReapStale(time.Minute)
	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestFrameEncodeProducesSSELines(t *testing.T) {
	fr := Frame{ID: 5, Kind: "task_opened", Payload: map[string]any{"task_id": "t1"}}
	enc, err := fr.encode()
	require.NoError(t, err)
	require.Contains(t, string(enc), "id: 5\n")
	require.Contains(t, string(enc), "event: task_opened\n")
	require.Contains(t, string(enc), `"task_id":"t1"`)
}

func TestFrameEncodeDroppedMarker(t *testing.T) {
	fr := Frame{ID: 7, Dropped: true}
	enc, err := fr.encode()
	require.NoError(t, err)
	require.Contains(t, string(enc), "event: dropped\n")
}
