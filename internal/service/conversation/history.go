// Package conversation holds the bounded turn log each session keeps for
// the language model.
package conversation

import (
	"sync"

	"voice-relay-service/internal/models"
)

// History is an ordered, bounded log of conversation turns.
//
// Invariants:
//   - at most one system turn, and only at index 0
//   - after Trim(n) with n >= 1 the length is at most n; a pinned system
//     turn consumes one of the n slots
//   - after Trim(n) with n <= 0 only the pinned system turn (if any) remains
//
// History is safe for concurrent use, but a pipeline serializes its own
// mutations so appends from different turns never interleave.
type History struct {
	mu    sync.RWMutex
	turns []models.Turn
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{turns: make([]models.Turn, 0, 16)}
}

// Append adds a turn to the end of the history.
//
// A system turn is only accepted into an empty history; anywhere else it
// would break the leading-system invariant, so it is stored as a user turn
// carrying the same content.
func (h *History) Append(turn models.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if turn.Role == models.RoleSystem && len(h.turns) > 0 {
		turn.Role = models.RoleUser
	}
	h.turns = append(h.turns, turn)
}

// EnsureSystem seeds a system turn when the history is still empty and
// instructions is non-empty. It returns true if a turn was added.
func (h *History) EnsureSystem(instructions string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) > 0 || instructions == "" {
		return false
	}
	h.turns = append(h.turns, models.SystemTurn(instructions))
	return true
}

// Trim evicts the oldest non-system turns until the history fits in
// contextLength slots.
func (h *History) Trim(contextLength int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pinned := len(h.turns) > 0 && h.turns[0].Role == models.RoleSystem
	if contextLength <= 0 {
		if pinned {
			h.turns = h.turns[:1:1]
		} else {
			h.turns = h.turns[:0]
		}
		return
	}
	if len(h.turns) <= contextLength {
		return
	}

	keep := contextLength
	if pinned {
		keep--
	}
	kept := make([]models.Turn, 0, contextLength)
	if pinned {
		kept = append(kept, h.turns[0])
	}
	kept = append(kept, h.turns[len(h.turns)-keep:]...)
	h.turns = kept
}

// Snapshot returns an independent copy of the turns.
func (h *History) Snapshot() []models.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
