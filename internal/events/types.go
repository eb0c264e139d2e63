// Package events defines the internal event-type taxonomy shared by the
// Hook Receiver, Transcript Watcher, State Machine, and Event Broadcaster.
package events

// Subjects for Task/Turn lifecycle events, published on the internal bus and
// mirrored to the Event log by whichever component drives the transition.
const (
	TaskOpened          = "task.opened"
	TaskStateChanged    = "task.state_changed"
	TaskClosed          = "task.closed"
	TurnAppended        = "turn.appended"
	SessionRegistered   = "session.registered"
	SessionUnregistered = "session.unregistered"
	AvailabilityChanged = "bridge.availability_changed"
	HookRejected        = "hook.rejected"
)

// BuildTaskSubject returns the subject a specific task's lifecycle events are
// published on.
func BuildTaskSubject(taskID string) string {
	return "task." + taskID
}

// BuildTaskWildcardSubject returns a subscription subject matching every
// lifecycle event for a single task.
func BuildTaskWildcardSubject(taskID string) string {
	return "task." + taskID + ".*"
}

// BuildSessionWildcardSubject returns a subscription subject matching every
// event produced for a single session, across all of its tasks.
func BuildSessionWildcardSubject(sessionID string) string {
	return "session." + sessionID + ".>"
}
