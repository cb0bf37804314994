// Package standin is a canned, non-adaptive model used when no hosted
// provider is configured. It writes one component and then stops.
package standin

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/danshapiro/uigen/internal/llm"
)

const Name = "standin"

// Adapter answers in three shapes: a structured review when a JSON
// response format is requested, a create call for /App.jsx when the last
// message is from the user, and a short closing message after a tool result.
type Adapter struct {
	calls atomic.Int64
}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return Name }

// Calls reports how many completions have been served.
func (a *Adapter) Calls() int64 { return a.calls.Load() }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, llm.WrapContextError(Name, err)
	}
	n := a.calls.Add(1)
	resp := llm.Response{
		ID:       fmt.Sprintf("standin-%d", n),
		Model:    req.Model,
		Provider: Name,
		Finish:   llm.FinishReason{Reason: "stop"},
	}

	if rf := req.ResponseFormat; rf != nil && rf.Type != "text" {
		resp.Message = llm.Assistant(`{"score":10,"feedback":"Stand-in reviewer accepts every component.","approved":true}`)
		return resp, nil
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role == llm.RoleTool || !hasTool(req.Tools, "str_replace_editor") {
		resp.Message = llm.Assistant("I've created the component in /App.jsx. Add an API key to get components tailored to your request.")
		return resp, nil
	}

	args, err := json.Marshal(map[string]any{
		"command":   "create",
		"path":      "/App.jsx",
		"file_text": componentFor(lastUserText(req.Messages)),
	})
	if err != nil {
		return llm.Response{}, err
	}
	resp.Message = llm.Message{
		Role: llm.RoleAssistant,
		Content: []llm.ContentPart{
			{Kind: llm.ContentText, Text: "I'll create a starter component for you."},
			{Kind: llm.ContentToolCall, ToolCall: &llm.ToolCallData{
				ID:        fmt.Sprintf("standin_call_%d", n),
				Type:      "function",
				Name:      "str_replace_editor",
				Arguments: args,
			}},
		},
	}
	resp.Finish = llm.FinishReason{Reason: "tool_call"}
	return resp, nil
}

func hasTool(tools []llm.ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func lastUserText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

var nonWord = regexp.MustCompile(`[^A-Za-z0-9 ]+`)

// componentFor renders a fixed card layout titled after the request.
func componentFor(request string) string {
	title := strings.TrimSpace(nonWord.ReplaceAllString(request, ""))
	if title == "" {
		title = "New Component"
	}
	if len(title) > 60 {
		title = strings.TrimSpace(title[:60])
	}
	return fmt.Sprintf(`export default function App() {
  return (
    <div className="min-h-screen flex items-center justify-center bg-gray-100">
      <div className="bg-white rounded-lg shadow-md p-8 max-w-md w-full">
        <h1 className="text-2xl font-bold text-gray-900 mb-4">%s</h1>
        <p className="text-gray-600">This is a placeholder generated without a language model.</p>
        <button className="mt-6 px-4 py-2 rounded bg-blue-600 text-white hover:bg-blue-700 transition-colors">
          Get started
        </button>
      </div>
    </div>
  );
}
`, title)
}
