package server

import (
	"time"

	"github.com/danshapiro/uigen/internal/agent"
	"github.com/danshapiro/uigen/internal/vfs"
)

// ChatRequest is the POST /api/chat request body.
type ChatRequest struct {
	Messages []agent.ConversationMessage `json:"messages"`

	// Files is the client's current file tree, keyed by path.
	Files vfs.Snapshot `json:"files,omitempty"`

	// ProjectID names the project to save into after the turn. Saving
	// also needs an authenticated caller.
	ProjectID string `json:"projectId,omitempty"`
}

// CreateProjectRequest is the POST /api/projects request body.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// TurnStatus is returned by GET /api/turns/{id}.
type TurnStatus struct {
	TurnID      string     `json:"turn_id"`
	State       string     `json:"state"`
	StopReason  string     `json:"stop_reason,omitempty"`
	Steps       int        `json:"steps"`
	Edits       int        `json:"edits"`
	LastEvent   string     `json:"last_event,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
