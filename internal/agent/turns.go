package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danshapiro/uigen/internal/llm"
)

const defaultUserRequest = "Create a component"

// ConversationMessage is the client-facing history item. It is what the
// chat endpoint accepts and what gets persisted with a project.
type ConversationMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content,omitempty"`
	ToolCalls  []ConversationToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Name       string                 `json:"name,omitempty"`
}

type ConversationToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts content as a string, null, or a list of
// {"type":"text","text":...} parts.
func (m *ConversationMessage) UnmarshalJSON(b []byte) error {
	type plain ConversationMessage
	var raw struct {
		plain
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = ConversationMessage(raw.plain)
	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
	case content[0] == '"':
		return json.Unmarshal(content, &m.Content)
	case content[0] == '[':
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(content, &parts); err != nil {
			return fmt.Errorf("message content: %w", err)
		}
		var texts []string
		for _, p := range parts {
			if p.Type == "text" || p.Type == "" {
				texts = append(texts, p.Text)
			}
		}
		m.Content = strings.Join(texts, "\n")
	default:
		return fmt.Errorf("message content must be a string or a list of parts")
	}
	return nil
}

// IsEmpty reports a message with neither content nor tool calls.
func (m ConversationMessage) IsEmpty() bool {
	return m.Content == "" && len(m.ToolCalls) == 0
}

// FilterForModel drops empty messages.
func FilterForModel(msgs []ConversationMessage) []ConversationMessage {
	out := make([]ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsEmpty() {
			out = append(out, m)
		}
	}
	return out
}

// FilterForStorage drops system and empty messages.
func FilterForStorage(msgs []ConversationMessage) []ConversationMessage {
	out := make([]ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != string(llm.RoleSystem) && !m.IsEmpty() {
			out = append(out, m)
		}
	}
	return out
}

// LastUserRequest is the content of the newest user message, or a generic
// request when there is none.
func LastUserRequest(msgs []ConversationMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(llm.RoleUser) {
			if msgs[i].Content == "" {
				break
			}
			return msgs[i].Content
		}
	}
	return defaultUserRequest
}

func ToLLMMessages(msgs []ConversationMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.toLLM())
	}
	return out
}

func (m ConversationMessage) toLLM() llm.Message {
	role := llm.Role(m.Role)
	if role == llm.RoleTool {
		return llm.ToolResultNamed(m.ToolCallID, m.Name, m.Content, false)
	}
	msg := llm.Message{Role: role, Name: m.Name}
	if m.Content != "" {
		msg.Content = append(msg.Content, llm.ContentPart{Kind: llm.ContentText, Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		msg.Content = append(msg.Content, llm.ContentPart{
			Kind: llm.ContentToolCall,
			ToolCall: &llm.ToolCallData{
				ID:        tc.ID,
				Type:      "function",
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(args),
			},
		})
	}
	return msg
}

func FromLLMMessages(msgs []llm.Message) []ConversationMessage {
	out := make([]ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromLLM(m))
	}
	return out
}

func fromLLM(m llm.Message) ConversationMessage {
	cm := ConversationMessage{Role: string(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}
	var texts []string
	for _, p := range m.Content {
		switch p.Kind {
		case llm.ContentText:
			texts = append(texts, p.Text)
		case llm.ContentToolCall:
			if p.ToolCall == nil {
				continue
			}
			cm.ToolCalls = append(cm.ToolCalls, ConversationToolCall{
				ID:       p.ToolCall.ID,
				Type:     "function",
				Function: ToolCallFunction{Name: p.ToolCall.Name, Arguments: string(p.ToolCall.Arguments)},
			})
		case llm.ContentToolResult:
			if p.ToolResult == nil {
				continue
			}
			cm.ToolCallID = p.ToolResult.ToolCallID
			cm.Name = p.ToolResult.Name
			texts = append(texts, renderToolValue(p.ToolResult.Content))
		}
	}
	cm.Content = strings.Join(texts, "\n")
	return cm
}
