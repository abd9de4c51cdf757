// Package rides holds the ride lifecycle rules: which status transitions
// exist, who may perform them, and which timestamp fields they set. Callers
// validate here first and only then issue the conditional write, so a failed
// validation never leaves a partial update behind.
package rides

import (
	"errors"
	"fmt"
	"time"
)

// Ride status constants
const (
	StatusRequested  = "requested"
	StatusAccepted   = "accepted"
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
)

// Actor identifies who is attempting a transition.
type Actor string

const (
	ActorPassenger Actor = "passenger"
	ActorDriver    Actor = "driver"
)

// ErrInvalidTransition marks a status change that is not in the guard table.
// It is a caller bug, not a race; it must never be retried.
var ErrInvalidTransition = errors.New("invalid ride status transition")

type edge struct {
	from, to string
}

type rule struct {
	actors       []Actor
	setStartTime bool
	setEndTime   bool
}

// The guard table. Acceptance (requested -> accepted) is listed for the
// driver actor but is only ever applied through the matching coordinator,
// which also sets driver_id and may overwrite the offered price.
var transitions = map[edge]rule{
	{StatusRequested, StatusAccepted}:   {actors: []Actor{ActorDriver}},
	{StatusRequested, StatusCanceled}:   {actors: []Actor{ActorPassenger, ActorDriver}},
	{StatusAccepted, StatusWaiting}:     {actors: []Actor{ActorDriver}},
	{StatusAccepted, StatusCanceled}:    {actors: []Actor{ActorPassenger, ActorDriver}},
	{StatusWaiting, StatusInProgress}:   {actors: []Actor{ActorPassenger}, setStartTime: true},
	{StatusInProgress, StatusCompleted}: {actors: []Actor{ActorDriver}, setEndTime: true},
}

// ActiveStatuses are the statuses that count toward the one-active-ride-per
// participant invariant.
func ActiveStatuses() []string {
	return []string{StatusRequested, StatusAccepted, StatusWaiting, StatusInProgress}
}

// IsTerminal reports whether status is absorbing.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCanceled
}

// Transition describes the side effects of an allowed edge.
type Transition struct {
	From, To  string
	StartTime *time.Time
	EndTime   *time.Time
}

// Validate checks the guard table for from -> to performed by actor. On
// success it returns the transition with any timestamp side effects stamped
// at now.
func Validate(from, to string, actor Actor, now time.Time) (Transition, error) {
	r, ok := transitions[edge{from, to}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	allowed := false
	for _, a := range r.actors {
		if a == actor {
			allowed = true
			break
		}
	}
	if !allowed {
		return Transition{}, fmt.Errorf("%w: %s -> %s not permitted for %s", ErrInvalidTransition, from, to, actor)
	}

	t := Transition{From: from, To: to}
	if r.setStartTime {
		t.StartTime = &now
	}
	if r.setEndTime {
		t.EndTime = &now
	}
	return t, nil
}

// CanCancel reports whether a ride in the given status may still be canceled
// by the given actor.
func CanCancel(status string, actor Actor) bool {
	_, err := Validate(status, StatusCanceled, actor, time.Time{})
	return err == nil
}
