package agent

import "time"

type EventKind string

const (
	EventTurnStart       EventKind = "turn_start"
	EventAssistantText   EventKind = "assistant_text"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolCallEnd     EventKind = "tool_call_end"
	EventReviewStarted   EventKind = "review_started"
	EventReviewFinished  EventKind = "review_finished"
	EventReviewTimeout   EventKind = "review_timeout"
	EventBudgetExhausted EventKind = "budget_exhausted"
	EventTurnFinished    EventKind = "turn_finished"
	EventError           EventKind = "error"
)

type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	TurnID    string         `json:"turn_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives events synchronously on the turn goroutine. It must
// not block for long.
type EventSink func(Event)
