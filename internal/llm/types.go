package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

type ToolCallData struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    any    `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

type ContentPart struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
}

type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	Name       string        `json:"name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Kind == ContentText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (m Message) ToolCalls() []ToolCallData {
	var out []ToolCallData
	for _, p := range m.Content {
		if p.Kind == ContentToolCall && p.ToolCall != nil {
			out = append(out, *p.ToolCall)
		}
	}
	return out
}

// IsEmpty reports a message with no text and no tool activity.
func (m Message) IsEmpty() bool {
	for _, p := range m.Content {
		switch p.Kind {
		case ContentText:
			if strings.TrimSpace(p.Text) != "" {
				return false
			}
		case ContentToolCall:
			if p.ToolCall != nil {
				return false
			}
		case ContentToolResult:
			if p.ToolResult != nil {
				return false
			}
		}
	}
	return true
}

func System(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{{Kind: ContentText, Text: text}}}
}

func User(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{{Kind: ContentText, Text: text}}}
}

func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{{Kind: ContentText, Text: text}}}
}

// ToolResultNamed builds the tool-role message answering a single call.
func ToolResultNamed(callID, name, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: callID,
		Name:       name,
		Content: []ContentPart{{
			Kind: ContentToolResult,
			ToolResult: &ToolResultData{
				ToolCallID: callID,
				Name:       name,
				Content:    content,
				IsError:    isError,
			},
		}},
	}
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

var toolNameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

func ValidateToolName(name string) error {
	if !toolNameRE.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}
	return nil
}

type ToolChoice struct {
	// Mode is one of auto|none|required|named.
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

// ResponseFormat asks the provider for structured output. Type is "text",
// "json_object" or "json_schema"; JSONSchema is only read for the latter.
type ResponseFormat struct {
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
	Strict     bool           `json:"strict,omitempty"`
}

type Request struct {
	Model           string           `json:"model"`
	Provider        string           `json:"provider,omitempty"`
	Messages        []Message        `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      *ToolChoice      `json:"tool_choice,omitempty"`
	ResponseFormat  *ResponseFormat  `json:"response_format,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	MaxTokens       *int             `json:"max_tokens,omitempty"`
	ReasoningEffort *string          `json:"reasoning_effort,omitempty"`
	ProviderOptions map[string]any   `json:"provider_options,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "request model is required"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "request has no messages"}
	}
	for _, t := range r.Tools {
		if err := ValidateToolName(t.Name); err != nil {
			return &ConfigurationError{Message: err.Error()}
		}
	}
	if r.ToolChoice != nil && r.ToolChoice.Mode == "named" && strings.TrimSpace(r.ToolChoice.Name) == "" {
		return &ConfigurationError{Message: "tool_choice mode=named requires a name"}
	}
	return nil
}

type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

type Usage struct {
	InputTokens     int  `json:"input_tokens"`
	OutputTokens    int  `json:"output_tokens"`
	TotalTokens     int  `json:"total_tokens"`
	ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
}

type Response struct {
	ID       string         `json:"id,omitempty"`
	Model    string         `json:"model"`
	Provider string         `json:"provider"`
	Message  Message        `json:"message"`
	Finish   FinishReason   `json:"finish"`
	Usage    Usage          `json:"usage"`
	Raw      map[string]any `json:"-"`
}

func (r Response) Text() string              { return r.Message.Text() }
func (r Response) ToolCalls() []ToolCallData { return r.Message.ToolCalls() }
