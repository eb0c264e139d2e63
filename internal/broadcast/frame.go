// Package broadcast is the Event Broadcaster: it fans out internal bus
// events to `GET /api/events` subscribers as chunked SSE frames
// (spec.md §6). Internal mechanics are grounded on the teacher's
// Hub/Client pair (internal/gateway/websocket/hub.go, client.go); the
// wire transport is net/http chunked writes instead of gorilla/websocket
// since spec.md mandates SSE, not a duplex socket (see DESIGN.md).
package broadcast

import (
	"encoding/json"
	"fmt"
)

// Frame is one unit delivered to a subscriber: either a real event frame
// or a synthetic "dropped" marker standing in for buffer overflow.
type Frame struct {
	ID      int64
	Kind    string
	Dropped bool
	Payload map[string]any
}

// projectID / sessionID extract the stamped filter fields. statemachine.publish
// always sets both; other publishers may omit one (transcript.Watcher's
// session.inactive event carries only session_id), and a missing field
// yields the zero value.
func (f Frame) projectID() string {
	v, _ := f.Payload["project_id"].(string)
	return v
}

func (f Frame) sessionID() string {
	v, _ := f.Payload["session_id"].(string)
	return v
}

// encode renders f as the three SSE lines spec.md §6 specifies:
// `id: <n>\nevent: <kind>\ndata: <json>\n\n`.
func (f Frame) encode() ([]byte, error) {
	if f.Dropped {
		data, _ := json.Marshal(map[string]any{"dropped_before": f.ID})
		return []byte(fmt.Sprintf("id: %d\nevent: dropped\ndata: %s\n\n", f.ID, data)), nil
	}
	data, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", f.ID, f.Kind, data)), nil
}

// heartbeatFrame is the comment-only keepalive line spec.md §6 requires.
var heartbeatFrame = []byte(": heartbeat\n\n")
