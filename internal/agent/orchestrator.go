package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/danshapiro/uigen/internal/llm"
	"github.com/danshapiro/uigen/internal/review"
	"github.com/danshapiro/uigen/internal/vfs"
)

// Completer is the model transport. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Reviewer grades a freshly written file. *review.Critic satisfies it.
type Reviewer interface {
	Review(ctx context.Context, code, userRequest string) (review.Verdict, error)
}

// ProjectSaver persists a finished turn. Implementations must reject
// writes by anyone other than the project owner.
type ProjectSaver interface {
	SaveTurn(ctx context.Context, projectID, userID string, messagesJSON []byte, snapshot vfs.Snapshot) error
}

type Config struct {
	Model    string
	Provider string
	// StandIn selects StandInMaxSteps instead of MaxSteps.
	StandIn bool

	MaxEdits        int
	MaxSteps        int
	StandInMaxSteps int
	MaxTokens       int
	ReviewTimeout   time.Duration
	SaveTimeout     time.Duration

	// SystemPrompt replaces GenerationPrompt when non-empty.
	SystemPrompt string

	// RetryPolicy governs retryable model errors. Nil means llm.DefaultRetryPolicy().
	RetryPolicy *llm.RetryPolicy
	Sleep       llm.SleepFunc
}

func (c *Config) applyDefaults() {
	if c.MaxEdits <= 0 {
		c.MaxEdits = DefaultMaxEdits
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 40
	}
	if c.StandInMaxSteps <= 0 {
		c.StandInMaxSteps = 4
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 10_000
	}
	if c.ReviewTimeout <= 0 {
		c.ReviewTimeout = 25 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = GenerationPrompt
	}
}

type StopReason string

const (
	StopCompleted       StopReason = "completed"
	StopStepLimit       StopReason = "step_limit"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopError           StopReason = "error"
)

type TurnInput struct {
	// TurnID is generated when empty.
	TurnID    string
	Messages  []ConversationMessage
	Files     vfs.Snapshot
	ProjectID string
	// UserID is empty for unauthenticated callers.
	UserID string
}

type TurnResult struct {
	TurnID     string
	StopReason StopReason
	// Text is the last non-empty assistant text of the turn.
	Text  string
	Steps int
	Edits int
	// Messages is the stored form of the conversation after the turn.
	Messages []ConversationMessage
	Files    vfs.Snapshot
	Digest   string
}

// Orchestrator runs one model/tool loop per chat turn. It holds no per-turn
// state and is safe for concurrent use.
type Orchestrator struct {
	model    Completer
	reviewer Reviewer
	saver    ProjectSaver
	logger   *zap.Logger
	cfg      Config

	editorSchema      *jsonschema.Schema
	fileManagerSchema *jsonschema.Schema
}

// NewOrchestrator requires a model. A nil reviewer skips reviews and a nil
// saver skips persistence.
func NewOrchestrator(model Completer, reviewer Reviewer, saver ProjectSaver, logger *zap.Logger, cfg Config) (*Orchestrator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model name is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	editorSchema, err := compileSchema(EditorSchema())
	if err != nil {
		return nil, fmt.Errorf("editor schema: %w", err)
	}
	fmSchema, err := compileSchema(FileManagerSchema())
	if err != nil {
		return nil, fmt.Errorf("file_manager schema: %w", err)
	}
	return &Orchestrator{
		model:             model,
		reviewer:          reviewer,
		saver:             saver,
		logger:            logger,
		cfg:               cfg,
		editorSchema:      editorSchema,
		fileManagerSchema: fmSchema,
	}, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

func (o *Orchestrator) stepLimit() int {
	if o.cfg.StandIn {
		return o.cfg.StandInMaxSteps
	}
	return o.cfg.MaxSteps
}

// turn is the state of one RunTurn call.
type turn struct {
	o      *Orchestrator
	id     string
	sink   EventSink
	logger *zap.Logger

	fs          *vfs.FileSystem
	budget      *EditBudget
	reg         *ToolRegistry
	userRequest string

	stored   []ConversationMessage
	history  []llm.Message
	appended []llm.Message

	budgetExhausted bool
}

// RunTurn rebuilds the file tree from in.Files, drives the model until it
// stops calling tools, the step limit is hit or the edit budget runs out,
// and then hands the result to the project saver exactly once. An error is
// returned only for model transport failures and cancellation; the result
// still carries the tree as it stood at that point.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput, sink EventSink) (res TurnResult, err error) {
	t := &turn{
		o:           o,
		id:          in.TurnID,
		sink:        sink,
		fs:          vfs.New(),
		budget:      NewEditBudget(o.cfg.MaxEdits),
		userRequest: LastUserRequest(in.Messages),
		stored:      FilterForStorage(in.Messages),
		history:     ToLLMMessages(FilterForModel(in.Messages)),
	}
	if t.id == "" {
		t.id = ulid.Make().String()
	}
	t.logger = o.logger.With(zap.String("turn_id", t.id), zap.String("project_id", in.ProjectID))
	res.TurnID = t.id

	if err := t.fs.DeserializeFromNodes(in.Files); err != nil {
		return res, fmt.Errorf("load files: %w", err)
	}
	if err := t.registerTools(); err != nil {
		return res, err
	}

	t.emit(EventTurnStart, map[string]any{
		"model":     o.cfg.Model,
		"max_steps": o.stepLimit(),
		"max_edits": o.cfg.MaxEdits,
	})

	defer func() {
		if err != nil {
			res.StopReason = StopError
		}
		res.Edits = t.budget.Used()
		res.Messages = append(append([]ConversationMessage{}, t.stored...), FilterForStorage(FromLLMMessages(t.appended))...)
		res.Files = t.fs.Serialize()
		res.Digest = t.fs.Digest()
		t.persist(ctx, in, res)
		t.emit(EventTurnFinished, map[string]any{
			"stop_reason": string(res.StopReason),
			"steps":       res.Steps,
			"edits":       res.Edits,
			"digest":      res.Digest,
		})
	}()

	res.StopReason, err = t.loop(ctx, &res)
	return res, err
}

func (t *turn) loop(ctx context.Context, res *TurnResult) (StopReason, error) {
	o := t.o
	policy := llm.DefaultRetryPolicy()
	if o.cfg.RetryPolicy != nil {
		policy = *o.cfg.RetryPolicy
	}
	maxTokens := o.cfg.MaxTokens
	tools := t.reg.Definitions()

	for step := 1; step <= o.stepLimit(); step++ {
		if err := ctx.Err(); err != nil {
			t.emit(EventError, map[string]any{"error": err.Error()})
			return StopError, err
		}
		req := llm.Request{
			Model:     o.cfg.Model,
			Provider:  o.cfg.Provider,
			Messages:  append([]llm.Message{llm.System(o.cfg.SystemPrompt)}, t.history...),
			Tools:     tools,
			MaxTokens: &maxTokens,
		}
		onRetry := func(err error, attempt int, delay time.Duration) {
			t.logger.Warn("retrying model call", zap.Int("step", step), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
		resp, err := llm.Retry(ctx, policy, o.cfg.Sleep, onRetry, func() (llm.Response, error) {
			return o.model.Complete(ctx, req)
		})
		if err != nil {
			t.emit(EventError, map[string]any{"error": err.Error(), "step": step})
			t.logger.Error("model call failed", zap.Int("step", step), zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return StopError, err
			}
			return StopError, fmt.Errorf("model step %d: %w", step, err)
		}
		res.Steps = step
		t.record(resp.Message)

		if txt := resp.Text(); strings.TrimSpace(txt) != "" {
			res.Text = txt
			t.emit(EventAssistantText, map[string]any{"text": txt, "step": step})
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			return StopCompleted, nil
		}
		for _, call := range calls {
			r := t.execTool(ctx, call)
			t.record(llm.ToolResultNamed(r.CallID, r.ToolName, r.Output, r.IsError))
		}
		if t.budgetExhausted {
			return StopBudgetExhausted, nil
		}
	}
	t.logger.Info("step limit reached", zap.Int("max_steps", o.stepLimit()))
	return StopStepLimit, nil
}

func (t *turn) record(m llm.Message) {
	t.history = append(t.history, m)
	t.appended = append(t.appended, m)
}

func (t *turn) registerTools() error {
	editor := RegisteredTool{
		Definition: EditorDefinition(),
		Schema:     t.o.editorSchema,
		Exec:       t.editorExec,
	}
	fm := NewFileManagerTool(t.fs)
	fm.Schema = t.o.fileManagerSchema

	t.reg = NewToolRegistry()
	if err := t.reg.Register(editor); err != nil {
		return err
	}
	return t.reg.Register(fm)
}

func (t *turn) execTool(ctx context.Context, call llm.ToolCallData) ToolExecResult {
	t.emit(EventToolCallStart, map[string]any{
		"tool_name":      call.Name,
		"call_id":        call.ID,
		"arguments_json": string(call.Arguments),
	})
	res := t.reg.ExecuteCall(ctx, call)
	t.emit(EventToolCallEnd, map[string]any{
		"tool_name":   res.ToolName,
		"call_id":     res.CallID,
		"is_error":    res.IsError,
		"clipped":     res.Clipped,
		"full_output": res.FullOutput,
	})
	return res
}

// editorExec applies the edit policy on top of the plain editor: str_replace
// is refused, create spends budget and is reviewed, the rest pass through.
func (t *turn) editorExec(ctx context.Context, args map[string]any) (any, error) {
	cmd, err := ParseEditorCommand(args)
	if err != nil {
		return nil, err
	}
	switch c := cmd.(type) {
	case StrReplaceCommand:
		return StrReplaceDisabledMessage, nil
	case CreateCommand:
		if !t.budget.TryConsume() {
			t.budgetExhausted = true
			t.emit(EventBudgetExhausted, map[string]any{"max_edits": t.budget.Max(), "path": c.Path})
			return t.budget.Notice(), nil
		}
		result := ExecuteEditorCommand(t.fs, c)
		return t.reviewEdit(ctx, result, c.FileText), nil
	default:
		return ExecuteEditorCommand(t.fs, cmd), nil
	}
}

type reviewOutcome struct {
	verdict review.Verdict
	err     error
}

// reviewEdit races one review against ReviewTimeout. The review runs on a
// context detached from ctx and reports into a buffered channel, so a late
// review finishes on its own and is discarded.
func (t *turn) reviewEdit(ctx context.Context, result, code string) string {
	if t.o.reviewer == nil {
		return result
	}
	t.emit(EventReviewStarted, map[string]any{"edit": t.budget.Used()})

	done := make(chan reviewOutcome, 1)
	rctx := context.WithoutCancel(ctx)
	reviewer, request := t.o.reviewer, t.userRequest
	go func() {
		v, err := reviewer.Review(rctx, code, request)
		done <- reviewOutcome{verdict: v, err: err}
	}()

	timer := time.NewTimer(t.o.cfg.ReviewTimeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			t.logger.Warn("review failed", zap.Error(out.err))
			t.emit(EventReviewFinished, map[string]any{"error": out.err.Error()})
			return result
		}
		t.emit(EventReviewFinished, map[string]any{
			"score":    out.verdict.Score,
			"approved": out.verdict.Approved,
			"feedback": out.verdict.Feedback,
		})
		return FormatReviewObservation(result, out.verdict)
	case <-timer.C:
		t.logger.Warn("review timed out", zap.Duration("timeout", t.o.cfg.ReviewTimeout))
		t.emit(EventReviewTimeout, map[string]any{"timeout_ms": t.o.cfg.ReviewTimeout.Milliseconds()})
		return result
	case <-ctx.Done():
		return result
	}
}

// FormatReviewObservation appends a verdict to an edit result.
func FormatReviewObservation(result string, v review.Verdict) string {
	if v.Approved {
		return fmt.Sprintf("%s\n\nReviewer Score: %d/10 (Approved). Feedback: %s. \nGreat job! You can stop now.", result, v.Score, v.Feedback)
	}
	return fmt.Sprintf("%s\n\nReviewer Score: %d/10 (Needs Improvement). Feedback: %s. \nPlease refine the code to address this feedback.", result, v.Score, v.Feedback)
}

// persist saves the turn when a project and an authenticated caller are
// both present. Failures are logged and never reach the caller.
func (t *turn) persist(ctx context.Context, in TurnInput, res TurnResult) {
	if in.ProjectID == "" || t.o.saver == nil {
		return
	}
	if in.UserID == "" {
		t.logger.Warn("caller not authenticated, project not saved")
		return
	}
	b, err := json.Marshal(res.Messages)
	if err != nil {
		t.logger.Error("encode messages for save", zap.Error(err))
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.o.cfg.SaveTimeout)
	defer cancel()
	if err := t.o.saver.SaveTurn(sctx, in.ProjectID, in.UserID, b, res.Files); err != nil {
		t.logger.Error("save project failed", zap.String("user_id", in.UserID), zap.Error(err))
		return
	}
	t.logger.Debug("project saved", zap.Int("messages", len(res.Messages)), zap.String("digest", res.Digest))
}

func (t *turn) emit(kind EventKind, data map[string]any) {
	if t.sink == nil {
		return
	}
	t.sink(Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		TurnID:    t.id,
		Data:      data,
	})
}
