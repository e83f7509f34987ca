// Package interaction implements the HITL (human-in-the-loop) subsystem
// (C6). A worker that needs a human answer calls Controller.Request,
// which either returns an already-delivered answer or registers a
// pending Interaction and returns ErrPaused.
//
// Go has no stackful coroutines, so a paused worker cannot be resumed
// mid-function the way the original's coroutine-based workers are.
// Instead this package follows the same re-entrant, replay-style
// contract the scheduler already uses for deterministic dispatch: on
// resume, the scheduler re-invokes the *same* worker's Run/ARun from the
// top, and any interaction call site that has a delivered answer
// returns it immediately instead of pausing again — so code after the
// original Request call effectively "resumes". This keeps every piece
// of suspended state (the pending Interaction, the worker's local_space)
// plain, serializable data, which the snapshot/restore round trip
// requires; a parked goroutine blocked on a channel would not survive a
// process restart.
package interaction

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/bitsky-tech/automa/automa/hooks"
)

// ErrPaused is returned by Controller.Request when no answer is yet
// available for the calling worker. The worker must propagate this
// error up through Run/ARun without wrapping it, so the scheduler can
// recognize the worker as suspended (not failed).
var ErrPaused = errors.New("automa: worker paused awaiting human interaction")

// Interaction describes a single pending human-in-the-loop request.
type Interaction struct {
	// ID uniquely identifies this interaction. Callers thread it back via
	// an InteractionFeedback on the resuming arun invocation.
	ID string
	// AwaitingWorkerKey is the worker that is blocked on this interaction.
	AwaitingWorkerKey string
	// AwaitingAutomaPath is the dotted path to the Automa that owns the
	// awaiting worker.
	AwaitingAutomaPath []string
	// Event is the event describing what input is needed.
	Event hooks.Event
}

// InteractionFeedback answers a pending Interaction by ID.
type InteractionFeedback struct {
	InteractionID string
	Data          any
}

// Controller tracks pending interactions for a single Automa run and
// resolves them against incoming InteractionFeedback on resume.
//
// At most one interaction is tracked per worker key at a time: a worker
// body that calls Request more than once before its first pending
// interaction is answered will keep receiving ErrPaused for the same
// pending record. This matches every documented interact_with_human
// usage (one outstanding question per worker).
type Controller struct {
	mu       sync.Mutex
	pending  map[string]Interaction // workerKey -> pending interaction
	answered map[string]any         // workerKey -> delivered feedback data
}

// NewController returns an empty Controller.
func NewController() *Controller {
	return &Controller{
		pending:  make(map[string]Interaction),
		answered: make(map[string]any),
	}
}

// Request resolves a human-in-the-loop request for workerKey.
//
// If a feedback answer was already delivered for workerKey (via Resume),
// it is returned and consumed. Otherwise a new Interaction is registered
// (or the existing pending one for workerKey is reused) and
// (nil, ErrPaused) is returned.
func (c *Controller) Request(workerKey string, automaPath []string, evt hooks.Event) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.answered[workerKey]; ok {
		delete(c.answered, workerKey)
		return data, nil
	}
	if _, exists := c.pending[workerKey]; !exists {
		c.pending[workerKey] = Interaction{
			ID:                 uuid.NewString(),
			AwaitingWorkerKey:  workerKey,
			AwaitingAutomaPath: append([]string(nil), automaPath...),
			Event:              evt,
		}
	}
	return nil, ErrPaused
}

// Pending returns a snapshot of every currently pending interaction, in
// no particular order. Used both to build an InteractionException and
// to serialize pending state into a Snapshot.
func (c *Controller) Pending() []Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Interaction, 0, len(c.pending))
	for _, in := range c.pending {
		out = append(out, in)
	}
	return out
}

// HasPending reports whether any interaction is still awaiting an answer.
func (c *Controller) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// RestorePending re-registers interactions still pending at the time a
// snapshot was taken, preserving their original IDs so feedback collected
// before a process restart still resolves after Restore.
func (c *Controller) RestorePending(interactions []Interaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range interactions {
		c.pending[in.AwaitingWorkerKey] = in
	}
}

// Resume delivers feedback for pending interactions, matched by ID. An
// ID that does not match any pending interaction is reported as an
// error listing the unmatched ID; interactions with no matching feedback
// remain pending and will pause their worker again on the next dispatch.
func (c *Controller) Resume(feedbacks []InteractionFeedback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID := make(map[string]string, len(c.pending)) // interactionID -> workerKey
	for workerKey, in := range c.pending {
		byID[in.ID] = workerKey
	}

	var unmatched []string
	for _, fb := range feedbacks {
		workerKey, ok := byID[fb.InteractionID]
		if !ok {
			unmatched = append(unmatched, fb.InteractionID)
			continue
		}
		delete(c.pending, workerKey)
		c.answered[workerKey] = fb.Data
	}
	if len(unmatched) > 0 {
		return &UnmatchedFeedbackError{InteractionIDs: unmatched}
	}
	return nil
}

// UnmatchedFeedbackError reports InteractionFeedback values whose ID did
// not match any interaction this Controller currently has pending.
type UnmatchedFeedbackError struct {
	InteractionIDs []string
}

func (e *UnmatchedFeedbackError) Error() string {
	msg := "automa: unmatched interaction feedback id(s): "
	for i, id := range e.InteractionIDs {
		if i > 0 {
			msg += ", "
		}
		msg += id
	}
	return msg
}
