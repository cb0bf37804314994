package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danshapiro/uigen/internal/agent"
)

// TurnState tracks one chat turn while its stream is open.
type TurnState struct {
	TurnID      string
	UserID      string
	Broadcaster *Broadcaster
	Cancel      context.CancelCauseFunc
	StartedAt   time.Time

	mu     sync.Mutex
	result agent.TurnResult
	err    error
	done   bool
}

func (ts *TurnState) SetResult(res agent.TurnResult, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.result = res
	ts.err = err
	ts.done = true
}

// VisibleTo reports whether callerID may observe the turn. Anonymous turns
// are visible to anyone holding the id.
func (ts *TurnState) VisibleTo(callerID string) bool {
	return ts.UserID == "" || ts.UserID == callerID
}

func (ts *TurnState) Status() TurnStatus {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	status := TurnStatus{
		TurnID:    ts.TurnID,
		State:     "running",
		StartedAt: ts.StartedAt,
	}
	if ts.done {
		status.State = "finished"
		status.StopReason = string(ts.result.StopReason)
		status.Steps = ts.result.Steps
		status.Edits = ts.result.Edits
		if ts.err != nil {
			status.State = "failed"
			status.Error = ts.err.Error()
		}
	}
	if ts.Broadcaster != nil {
		if history := ts.Broadcaster.History(); len(history) > 0 {
			last := history[len(history)-1]
			status.LastEvent = string(last.Kind)
			at := last.Timestamp
			status.LastEventAt = &at
		}
	}
	return status
}

var errTurnExists = errors.New("turn already registered")

// TurnRegistry holds the turns currently streaming on this server.
type TurnRegistry struct {
	mu    sync.RWMutex
	turns map[string]*TurnState
}

func NewTurnRegistry() *TurnRegistry {
	return &TurnRegistry{turns: make(map[string]*TurnState)}
}

func (r *TurnRegistry) Register(ts *TurnState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.turns[ts.TurnID]; exists {
		return fmt.Errorf("%w: %s", errTurnExists, ts.TurnID)
	}
	r.turns[ts.TurnID] = ts
	return nil
}

func (r *TurnRegistry) Get(turnID string) (*TurnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.turns[turnID]
	return ts, ok
}

func (r *TurnRegistry) Remove(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.turns, turnID)
}

func (r *TurnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.turns)
}

// CancelAll cancels every registered turn with cause.
func (r *TurnRegistry) CancelAll(cause error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ts := range r.turns {
		if ts.Cancel != nil {
			ts.Cancel(cause)
		}
	}
}
