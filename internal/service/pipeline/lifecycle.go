package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a turn.
type State int

const (
	// StateIdle - turn created but not started, or finished.
	StateIdle State = iota
	// StateProcessing - utterance is being transcribed.
	StateProcessing
	// StateResponding - conversation and synthesis are running.
	StateResponding
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateProcessing:
		return "PROCESSING"
	case StateResponding:
		return "RESPONDING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsActive returns true while the turn is doing work.
func (s State) IsActive() bool {
	return s == StateProcessing || s == StateResponding
}

// Errors for invalid state transitions.
var (
	ErrTurnNotIdle       = errors.New("turn is not idle")
	ErrTurnNotProcessing = errors.New("turn is not processing")
	ErrTurnFinished      = errors.New("turn is finished")
)

// Lifecycle manages the state machine for a single turn.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → PROCESSING → RESPONDING → IDLE (finished)
//	          │
//	          └── Finish() ──→ IDLE (finished), empty transcript or failure
//
// A finished turn cannot be restarted.
type Lifecycle struct {
	mu       sync.RWMutex
	turnID   string
	state    State
	finished bool
}

// NewLifecycle creates a new turn lifecycle in IDLE state.
func NewLifecycle(turnID string) *Lifecycle {
	return &Lifecycle{turnID: turnID, state: StateIdle}
}

// TurnID returns the turn ID.
func (l *Lifecycle) TurnID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.turnID
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsFinished returns true once Finish has been called.
func (l *Lifecycle) IsFinished() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.finished
}

// Begin transitions IDLE → PROCESSING.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.finished:
		return ErrTurnFinished
	case l.state != StateIdle:
		return ErrTurnNotIdle
	}
	l.state = StateProcessing
	return nil
}

// Respond transitions PROCESSING → RESPONDING.
func (l *Lifecycle) Respond() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.finished:
		return ErrTurnFinished
	case l.state != StateProcessing:
		return ErrTurnNotProcessing
	}
	l.state = StateResponding
	return nil
}

// Finish returns the turn to IDLE and marks it finished.
// Returns false if it was already finished.
func (l *Lifecycle) Finish() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished {
		return false
	}
	l.state = StateIdle
	l.finished = true
	return true
}
