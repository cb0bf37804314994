package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/danshapiro/uigen/internal/llm"
)

func okTool(name string, out any) RegisteredTool {
	return RegisteredTool{
		Definition: llm.ToolDefinition{Name: name},
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			return out, nil
		},
	}
}

func TestToolRegistry_UnknownTool_ReturnsErrorResult(t *testing.T) {
	r := NewToolRegistry()
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "does_not_exist", Arguments: json.RawMessage(`{}`)})
	if !res.IsError || !strings.Contains(res.Output, "unknown tool") {
		t.Fatalf("res: %+v", res)
	}
}

func TestToolRegistry_SchemaValidationError_IsReturnedToModel(t *testing.T) {
	r := NewToolRegistry()
	tool := okTool("t", "ok")
	tool.Definition.Parameters = map[string]any{
		"type":       "object",
		"properties": map[string]any{"required_field": map[string]any{"type": "string"}},
		"required":   []string{"required_field"},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "t", Arguments: json.RawMessage(`{}`)})
	if !res.IsError || !strings.Contains(res.Output, "schema validation failed") {
		t.Fatalf("res: %+v", res)
	}
}

func TestToolRegistry_InvalidArgumentsJSON_IsReturnedToModel(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(okTool("t", "ok")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "t", Arguments: json.RawMessage(`{"unterminated":`)})
	if !res.IsError || !strings.Contains(res.Output, "invalid tool arguments JSON") {
		t.Fatalf("res: %+v", res)
	}
}

func TestToolRegistry_ExecError_IsReturnedToModel(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{Name: "t"},
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("kaboom")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{Name: "t"})
	if !res.IsError || res.Output != "Error: kaboom" {
		t.Fatalf("res: %+v", res)
	}
	if !strings.HasPrefix(res.CallID, "call_") {
		t.Fatalf("generated call id: %q", res.CallID)
	}
}

func TestToolRegistry_RegisterRejectsBadTools(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(okTool("bad name", "x")); err == nil {
		t.Fatalf("expected invalid name error")
	}
	if err := r.Register(RegisteredTool{Definition: llm.ToolDefinition{Name: "t"}}); err == nil {
		t.Fatalf("expected missing executor error")
	}
	bad := okTool("t", "x")
	bad.Definition.Parameters = map[string]any{"type": 12}
	if err := r.Register(bad); err == nil {
		t.Fatalf("expected schema compile error")
	}
}

func TestToolRegistry_DefinitionsAreSorted(t *testing.T) {
	r := NewToolRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(okTool(n, "x")); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	var names []string
	for _, d := range r.Definitions() {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "alpha,mid,zeta" {
		t.Fatalf("names: %v", names)
	}
}

func TestToolRegistry_ClipsViewOutputOnLineBoundary(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %02d\n", i)
	}
	r := NewToolRegistry()
	tool := okTool("t", b.String())
	tool.Cap = ObservationCap{MaxLines: 4}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "t"})
	if res.IsError || !res.Clipped || res.FullOutput != b.String() {
		t.Fatalf("res: %+v", res)
	}
	if !strings.HasPrefix(res.Output, "line 01\nline 02\nline 03\nline 04\n\n") {
		t.Fatalf("output:\n%s", res.Output)
	}
	if strings.Contains(res.Output, "line 05") {
		t.Fatalf("hidden line leaked:\n%s", res.Output)
	}
	if !strings.Contains(res.Output, "Call view with view_range [5, 10]") {
		t.Fatalf("missing resume hint:\n%s", res.Output)
	}
}

func TestToolRegistry_ClipsByBytes(t *testing.T) {
	r := NewToolRegistry()
	tool := okTool("t", "aaaa\nbbbb\ncccc\n")
	tool.Cap = ObservationCap{MaxBytes: 11}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "t"})
	if !strings.HasPrefix(res.Output, "aaaa\nbbbb\n\n[Output clipped at line 2 of 3.") {
		t.Fatalf("output: %q", res.Output)
	}
}

func TestToolRegistry_ClipsOversizedSingleLineAtRuneBoundary(t *testing.T) {
	r := NewToolRegistry()
	tool := okTool("t", strings.Repeat("é", 100))
	tool.Cap = ObservationCap{MaxBytes: 11}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "t"})
	head, _, ok := strings.Cut(res.Output, "\n\n")
	if !ok || head != strings.Repeat("é", 5) || !utf8.ValidString(res.Output) {
		t.Fatalf("output: %q", res.Output)
	}
	if !strings.Contains(res.Output, "[Output clipped after 10 of 200 bytes.]") {
		t.Fatalf("output: %q", res.Output)
	}
}

func TestToolRegistry_SmallOutputIsUntouched(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(okTool(EditorToolName, "export default function App() {}\n")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: EditorToolName})
	if res.Clipped || res.Output != "export default function App() {}\n" {
		t.Fatalf("res: %+v", res)
	}
}

func TestToolRegistry_DerivesStableCallID(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(okTool("t", "ok")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	call := llm.ToolCallData{Name: "t", Arguments: json.RawMessage(`{"a":1}`)}
	a := r.ExecuteCall(context.Background(), call)
	b := r.ExecuteCall(context.Background(), call)
	if !strings.HasPrefix(a.CallID, "call_") || len(a.CallID) != len("call_")+16 || a.CallID != b.CallID {
		t.Fatalf("call ids: %q %q", a.CallID, b.CallID)
	}
}

func TestToolRegistry_NonStringResultsAreJSON(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(okTool("t", map[string]any{"ok": true})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.ExecuteCall(context.Background(), llm.ToolCallData{ID: "c1", Name: "t"})
	if res.Output != "{\n  \"ok\": true\n}" {
		t.Fatalf("output: %q", res.Output)
	}
}
