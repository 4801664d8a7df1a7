package aiflow

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Session is the continuation state that outlives individual stream
// turns: an opaque cursor used only by the Responses dialect, and the
// accumulated cost across every turn. Session state is mutated only
// between turns and only by the streaming engine.
type Session struct {
	mu     sync.Mutex
	cursor string
	hasCur bool
	cost   decimal.Decimal
}

// NewSession constructs a fresh session with zero accumulated cost.
func NewSession() *Session {
	return &Session{}
}

// Cursor returns the current continuation handle, if the Responses
// dialect has set one. The Chat dialect never writes it.
func (s *Session) Cursor() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCur
}

// SetCursor records a new continuation handle.
func (s *Session) SetCursor(cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.hasCur = true
}

// AddCost accumulates a per-turn cost into the session total.
func (s *Session) AddCost(delta decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost = s.cost.Add(delta)
}

// Cost returns the cost accumulated across every turn so far.
func (s *Session) Cost() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}
