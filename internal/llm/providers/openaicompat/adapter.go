// Package openaicompat talks to any endpoint that implements the OpenAI
// chat.completions wire format.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/uigen/internal/llm"
)

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Path         string
	OptionsKey   string
	ExtraHeaders map[string]string
	// RequestTimeout applies when the caller's context has no deadline.
	RequestTimeout time.Duration
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

const defaultRequestTimeout = 2 * time.Minute

func NewAdapter(cfg Config) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/v1/chat/completions"
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if strings.TrimSpace(cfg.OptionsKey) == "" {
		cfg.OptionsKey = cfg.Provider
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Adapter{cfg: cfg, client: &http.Client{}}
}

func (a *Adapter) Name() string { return a.cfg.Provider }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	requestCtx, cancel := a.withDefaultDeadline(ctx)
	defer cancel()

	body, err := toChatCompletionsBody(req, a.cfg.OptionsKey)
	if err != nil {
		return llm.Response{}, &llm.ConfigurationError{Message: fmt.Sprintf("encode request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, &llm.ConfigurationError{Message: err.Error()}
	}
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, a.transportError(err)
	}
	defer resp.Body.Close()
	return parseChatCompletionsResponse(a.cfg.Provider, req.Model, resp)
}

func (a *Adapter) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.WrapContextError(a.cfg.Provider, err)
	}
	return llm.NewNetworkError(a.cfg.Provider, err)
}

func (a *Adapter) withDefaultDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.cfg.RequestTimeout)
}

func toChatCompletionsBody(req llm.Request, optionsKey string) ([]byte, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": toChatCompletionsMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		body["tools"] = toChatCompletionsTools(req.Tools)
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = toChatCompletionsToolChoice(*req.ToolChoice)
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.ReasoningEffort != nil && *req.ReasoningEffort != "" {
		body["reasoning_effort"] = *req.ReasoningEffort
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_schema":
			name := rf.Name
			if name == "" {
				name = "response"
			}
			body["response_format"] = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   name,
					"schema": rf.JSONSchema,
					"strict": rf.Strict,
				},
			}
		case "json_object":
			body["response_format"] = map[string]any{"type": "json_object"}
		}
	}
	if ov, ok := req.ProviderOptions[optionsKey].(map[string]any); ok {
		for k, v := range ov {
			body[k] = v
		}
	}
	return json.Marshal(body)
}

func parseChatCompletionsResponse(provider, model string, resp *http.Response) (llm.Response, error) {
	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return llm.Response{}, llm.WrapContextError(provider, llm.NewNetworkError(provider, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return llm.Response{}, llm.ErrorFromHTTPStatus(provider, resp.StatusCode, errorMessage(rawBytes), ra)
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(rawBytes))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return llm.Response{}, fmt.Errorf("%s: decode chat.completions response: %w", provider, err)
	}
	return fromChatCompletions(provider, model, raw)
}

// errorMessage pulls error.message out of an OpenAI style error body and
// falls back to the raw text.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && strings.TrimSpace(env.Error.Message) != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		return "chat.completions failed"
	}
	return s
}

func toChatCompletionsMessages(msgs []llm.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]any{"role": string(m.Role)}
		var textParts []string
		var toolCalls []map[string]any
		for _, p := range m.Content {
			switch p.Kind {
			case llm.ContentText:
				if strings.TrimSpace(p.Text) != "" {
					textParts = append(textParts, p.Text)
				}
			case llm.ContentToolCall:
				if p.ToolCall != nil {
					args := string(p.ToolCall.Arguments)
					if args == "" {
						args = "{}"
					}
					toolCalls = append(toolCalls, map[string]any{
						"id":   p.ToolCall.ID,
						"type": "function",
						"function": map[string]any{
							"name":      p.ToolCall.Name,
							"arguments": args,
						},
					})
				}
			case llm.ContentToolResult:
				if p.ToolResult != nil {
					entry["role"] = "tool"
					entry["tool_call_id"] = p.ToolResult.ToolCallID
					entry["content"] = renderAnyAsText(p.ToolResult.Content)
				}
			}
		}
		if _, ok := entry["content"]; !ok {
			if len(textParts) == 0 && len(toolCalls) > 0 {
				entry["content"] = nil
			} else {
				entry["content"] = strings.Join(textParts, "\n")
			}
		}
		if len(toolCalls) > 0 {
			entry["tool_calls"] = toolCalls
		}
		out = append(out, entry)
	}
	return out
}

func toChatCompletionsTools(tools []llm.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, td := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        td.Name,
				"description": td.Description,
				"parameters":  td.Parameters,
			},
		})
	}
	return out
}

func toChatCompletionsToolChoice(tc llm.ToolChoice) any {
	switch strings.ToLower(strings.TrimSpace(tc.Mode)) {
	case "none":
		return "none"
	case "required":
		return "required"
	case "named":
		return map[string]any{"type": "function", "function": map[string]any{"name": tc.Name}}
	default:
		return "auto"
	}
}

func fromChatCompletions(provider, model string, raw map[string]any) (llm.Response, error) {
	choices, ok := raw["choices"].([]any)
	if !ok || len(choices) == 0 {
		return llm.Response{}, fmt.Errorf("%s: chat.completions response missing choices", provider)
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return llm.Response{}, fmt.Errorf("%s: chat.completions first choice malformed", provider)
	}
	msgMap, _ := choice["message"].(map[string]any)
	msg := llm.Message{Role: llm.RoleAssistant}
	if text := asString(msgMap["content"]); text != "" {
		msg.Content = append(msg.Content, llm.ContentPart{Kind: llm.ContentText, Text: text})
	}
	if calls, ok := msgMap["tool_calls"].([]any); ok {
		for _, c := range calls {
			cm, _ := c.(map[string]any)
			fn, _ := cm["function"].(map[string]any)
			msg.Content = append(msg.Content, llm.ContentPart{
				Kind: llm.ContentToolCall,
				ToolCall: &llm.ToolCallData{
					ID:        asString(cm["id"]),
					Type:      asString(cm["type"]),
					Name:      asString(fn["name"]),
					Arguments: json.RawMessage(renderAnyAsText(fn["arguments"])),
				},
			})
		}
	}

	usageMap, _ := raw["usage"].(map[string]any)
	usage := llm.Usage{
		InputTokens:  intFromAny(usageMap["prompt_tokens"]),
		OutputTokens: intFromAny(usageMap["completion_tokens"]),
		TotalTokens:  intFromAny(usageMap["total_tokens"]),
	}
	if ctd, ok := usageMap["completion_tokens_details"].(map[string]any); ok {
		if rt := intFromAny(ctd["reasoning_tokens"]); rt > 0 {
			usage.ReasoningTokens = &rt
		}
	}
	finish := asString(choice["finish_reason"])
	return llm.Response{
		ID:       asString(raw["id"]),
		Model:    firstNonEmpty(model, asString(raw["model"])),
		Provider: provider,
		Message:  msg,
		Finish:   llm.FinishReason{Reason: normalizeFinishReason(finish), Raw: finish},
		Usage:    usage,
		Raw:      raw,
	}, nil
}

func renderAnyAsText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

func intFromAny(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(x))
		return n
	default:
		return 0
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return strings.TrimSpace(b)
}

func normalizeFinishReason(in string) string {
	switch s := strings.ToLower(strings.TrimSpace(in)); s {
	case "tool_calls", "function_call":
		return "tool_call"
	case "length":
		return "max_tokens"
	default:
		return s
	}
}
