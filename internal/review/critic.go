// Package review grades generated components with a second, strictly
// configured model call.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/danshapiro/uigen/internal/llm"
)

// ApprovalThreshold is the lowest approved score.
const ApprovalThreshold = 8

type Verdict struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Approved bool   `json:"approved"`
}

// Fallback is returned whenever a review cannot be produced.
func Fallback() Verdict {
	return Verdict{Score: 10, Feedback: "Review service unavailable.", Approved: true}
}

type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

type Config struct {
	Model     string
	Provider  string
	MaxTokens int
}

type Critic struct {
	model  Completer
	cfg    Config
	schema *jsonschema.Schema
	logger *zap.Logger
}

func NewCritic(model Completer, cfg Config, logger *zap.Logger) (*Critic, error) {
	if model == nil {
		return nil, fmt.Errorf("review model is nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("review model name is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileVerdictSchema()
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &Critic{model: model, cfg: cfg, schema: schema, logger: logger}, nil
}

// Review never returns an error. Model failures, unparsable replies and
// schema violations all produce Fallback.
func (c *Critic) Review(ctx context.Context, code, userRequest string) (Verdict, error) {
	temp := 0.0
	maxTokens := c.cfg.MaxTokens
	req := llm.Request{
		Model:    c.cfg.Model,
		Provider: c.cfg.Provider,
		Messages: []llm.Message{
			llm.User(buildPrompt(userRequest) + "\n\nCode to review:\n" + code),
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		ResponseFormat: &llm.ResponseFormat{
			Type:       "json_schema",
			Name:       "review",
			JSONSchema: VerdictSchema(),
			Strict:     true,
		},
	}
	resp, err := c.model.Complete(ctx, req)
	if err != nil {
		c.logger.Warn("review request failed", zap.Error(err))
		return Fallback(), nil
	}
	v, err := c.parse(resp.Text())
	if err != nil {
		c.logger.Warn("review reply rejected", zap.Error(err), zap.String("reply", truncate(resp.Text(), 500)))
		return Fallback(), nil
	}
	c.logger.Debug("review finished", zap.Int("score", v.Score), zap.Bool("approved", v.Approved))
	return v, nil
}

func (c *Critic) parse(text string) (Verdict, error) {
	body := stripCodeFence(text)
	if body == "" {
		return Verdict{}, fmt.Errorf("empty reply")
	}
	var doc any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Verdict{}, fmt.Errorf("decode reply: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return Verdict{}, fmt.Errorf("reply does not match schema: %w", err)
	}
	var raw struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	// The schema admits only integral scores.
	score := int(raw.Score)
	return Verdict{
		Score:    score,
		Feedback: strings.TrimSpace(raw.Feedback),
		Approved: score >= ApprovalThreshold,
	}, nil
}

func VerdictSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":    map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
			"feedback": map[string]any{"type": "string"},
			"approved": map[string]any{"type": "boolean"},
		},
		"required":             []string{"score", "feedback", "approved"},
		"additionalProperties": false,
	}
}

func compileVerdictSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(VerdictSchema())
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("verdict.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("verdict.json")
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func buildPrompt(userRequest string) string {
	return fmt.Sprintf(`You are a strict code reviewer. Review the following React component code based on the user's request.

User Request: %q

Critique Criteria:
1. Functionality: Does it do what was asked?
2. Styling: Is it polished? Does it use Tailwind correctly? Are there hover states/animations?
3. Best Practices: Is the code clean? properly typed (if TS)? accessible?

Output strictly in JSON:
- score: 0-10 (8+ is approved)
- feedback: Concise, actionable improvements. Max 3 bullet points. No essays.
- approved: true if score >= 8`, userRequest)
}
