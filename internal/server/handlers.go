package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danshapiro/uigen/internal/agent"
	"github.com/danshapiro/uigen/internal/store"
)

// validID matches ULIDs and other safe identifiers.
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

var errCanceledByClient = errors.New("canceled via HTTP API")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"turns":  s.turns.Len(),
	})
}

// handleChat runs one turn and streams its events on the same response.
// The turn is bound to the request: a client disconnect cancels it.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if req.ProjectID != "" && !validID.MatchString(req.ProjectID) {
		writeError(w, http.StatusBadRequest, "projectId must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}

	userID := callerUserID(r.Context())
	turnID := ulid.Make().String()
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	b := NewBroadcaster()
	ts := &TurnState{
		TurnID:      turnID,
		UserID:      userID,
		Broadcaster: b,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.turns.Register(ts); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	defer s.turns.Remove(turnID)

	in := agent.TurnInput{
		TurnID:    turnID,
		Messages:  req.Messages,
		Files:     req.Files,
		ProjectID: req.ProjectID,
		UserID:    userID,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.Close()
		res, err := s.runner.RunTurn(ctx, in, b.Send)
		ts.SetResult(res, err)
		if err != nil {
			s.logger.Warn("turn failed",
				zap.String("turn_id", turnID),
				zap.NamedError("cause", context.Cause(ctx)),
				zap.Error(err))
		}
	}()

	w.Header().Set("X-Turn-ID", turnID)
	WriteSSE(w, r, b)
	// The turn saves in a deferred hook; wait for it before releasing the
	// request.
	cancel(nil)
	<-done
}

func (s *Server) lookupTurn(w http.ResponseWriter, r *http.Request) (*TurnState, bool) {
	id := r.PathValue("id")
	if !validID.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid turn id")
		return nil, false
	}
	ts, ok := s.turns.Get(id)
	if !ok || !ts.VisibleTo(callerUserID(r.Context())) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("turn %s not found", id))
		return nil, false
	}
	return ts, true
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.lookupTurn(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ts.Status())
}

// handleTurnEvents attaches another observer to a running turn. It replays
// everything emitted so far.
func (s *Server) handleTurnEvents(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.lookupTurn(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, ts.Broadcaster)
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.lookupTurn(w, r)
	if !ok {
		return
	}
	ts.Cancel(errCanceledByClient)
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if s.projects == nil {
		writeError(w, http.StatusServiceUnavailable, "project storage unavailable")
		return
	}
	list, err := s.projects.ListProjects(r.Context(), callerUserID(r.Context()))
	if err != nil {
		s.logger.Error("list projects", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list projects")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if s.projects == nil {
		writeError(w, http.StatusServiceUnavailable, "project storage unavailable")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	p, err := s.projects.CreateProject(r.Context(), callerUserID(r.Context()), req.Name)
	if err != nil {
		s.logger.Error("create project", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create project")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleGetProject answers 404 for projects owned by someone else.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	if s.projects == nil {
		writeError(w, http.StatusServiceUnavailable, "project storage unavailable")
		return
	}
	id := r.PathValue("id")
	if !validID.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := s.projects.GetProject(r.Context(), id, callerUserID(r.Context()))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Project not found")
		return
	case err != nil:
		s.logger.Error("get project", zap.String("project_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
