// Package lifecycle holds the CollectionTask state machine.
//
//	pending --start--> running
//	running --complete--> completed   (progress reached 100, sets completedAt)
//	running --stop--> pending          (progress kept)
//	running --fail--> failed
//	any --delete--> (removed, data cascaded)
//
// Anything else is rejected. Requests are never clamped into a legal move.
package lifecycle

import (
	"northsea/internal/apperr"
	"northsea/internal/model"
)

// Event drives a transition.
type Event string

const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventStop     Event = "stop"
	EventFail     Event = "fail"
	EventDelete   Event = "delete"
)

// StatusDeleted is the pseudo target of EventDelete.
const StatusDeleted model.TaskStatus = ""

type edge struct {
	from  model.TaskStatus
	event Event
}

var table = map[edge]model.TaskStatus{
	{model.TaskPending, EventStart}:    model.TaskRunning,
	{model.TaskRunning, EventComplete}: model.TaskCompleted,
	{model.TaskRunning, EventStop}:     model.TaskPending,
	{model.TaskRunning, EventFail}:     model.TaskFailed,
	{model.TaskPending, EventDelete}:   StatusDeleted,
	{model.TaskRunning, EventDelete}:   StatusDeleted,
	// finished tasks stay deletable; deleteTask succeeds for any existing id
	{model.TaskCompleted, EventDelete}: StatusDeleted,
	{model.TaskFailed, EventDelete}:    StatusDeleted,
}

// Transition returns the target state of event applied in from.
func Transition(from model.TaskStatus, event Event) (model.TaskStatus, error) {
	to, ok := table[edge{from, event}]
	if !ok {
		return from, apperr.InvalidState("cannot %s task in status %q", event, from)
	}
	return to, nil
}

// Sources lists every state from which event is legal. Stores use it to build
// their conditional UPDATE guards.
func Sources(event Event) []model.TaskStatus {
	var out []model.TaskStatus
	for _, s := range []model.TaskStatus{model.TaskPending, model.TaskRunning, model.TaskCompleted, model.TaskFailed} {
		if _, ok := table[edge{s, event}]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Allowed reports whether event is legal in from.
func Allowed(from model.TaskStatus, event Event) bool {
	_, ok := table[edge{from, event}]
	return ok
}

// Change describes an applied transition, handed to observers.
type Change struct {
	TaskID uint
	Name   string
	From   model.TaskStatus
	To     model.TaskStatus
	Event  Event
	Reason string
}

// Observer is notified after a transition has been committed.
type Observer interface {
	TaskTransitioned(change Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Change)

func (f ObserverFunc) TaskTransitioned(c Change) { f(c) }
