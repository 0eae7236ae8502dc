// Package server drives the external game server process: launching and
// stopping it, and the save-swap sequence that restarts it on another world.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/energizer-project/rconbridge/internal/events"
)

// StateTracker holds the process state seen by the orchestrator. Only the
// orchestrator writes it; everyone else reads snapshots.
type StateTracker struct {
	mu sync.RWMutex

	state     events.ProcessState
	save      string
	changedAt time.Time

	eventBus *events.EventBus
}

// StateSnapshot is an immutable copy of the tracker.
type StateSnapshot struct {
	State     events.ProcessState `json:"state"`
	Save      string              `json:"save,omitempty"`
	ChangedAt time.Time           `json:"changed_at"`
	Swapping  bool                `json:"swapping"`
}

// NewStateTracker starts in STOPPED.
func NewStateTracker(eventBus *events.EventBus) *StateTracker {
	return &StateTracker{
		state:     events.StateStopped,
		changedAt: time.Now(),
		eventBus:  eventBus,
	}
}

// Set records a transition and publishes it synchronously so subscribers
// observe transitions in order. save is kept when empty.
func (s *StateTracker) Set(ctx context.Context, operationID string, to events.ProcessState, save string) events.ProcessState {
	s.mu.Lock()
	from := s.state
	s.state = to
	if save != "" {
		s.save = save
	}
	s.changedAt = time.Now()
	payload := events.StateChangedPayload{
		OperationID: operationID,
		From:        from,
		To:          to,
		Save:        s.save,
		At:          s.changedAt,
	}
	s.mu.Unlock()

	if s.eventBus != nil {
		s.eventBus.EmitSync(ctx, events.Event{
			Type:    events.EventStateChanged,
			Source:  "orchestrator",
			Payload: payload,
		})
	}
	return from
}

// Get returns the current state.
func (s *StateTracker) Get() events.ProcessState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a read-only copy of the current state.
func (s *StateTracker) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		State:     s.state,
		Save:      s.save,
		ChangedAt: s.changedAt,
	}
}
