package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/uigen/internal/llm"
)

// ObservationCap bounds what the model sees of one tool result. Zero
// fields are unbounded.
type ObservationCap struct {
	MaxBytes int
	MaxLines int
}

var (
	editorCap      = ObservationCap{MaxBytes: 50_000, MaxLines: 2_000}
	fileManagerCap = ObservationCap{MaxBytes: 2_000, MaxLines: 20}
	fallbackCap    = ObservationCap{MaxBytes: 20_000}
)

func capFor(toolName string) ObservationCap {
	switch toolName {
	case EditorToolName:
		return editorCap
	case FileManagerToolName:
		return fileManagerCap
	default:
		return fallbackCap
	}
}

type ToolExecResult struct {
	ToolName string
	CallID   string

	// Output is what the model sees.
	Output string

	// FullOutput is the unclipped observation, reported in tool_call_end.
	FullOutput string

	IsError bool
	Clipped bool
}

// ToolFunc runs a tool with arguments that already passed schema
// validation. A returned error becomes an error observation for the model.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

type RegisteredTool struct {
	Definition llm.ToolDefinition
	Schema     *jsonschema.Schema
	Exec       ToolFunc

	// Cap defaults to the per-tool cap when zero.
	Cap ObservationCap
}

type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]RegisteredTool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]RegisteredTool{}}
}

func (r *ToolRegistry) Register(t RegisteredTool) error {
	name := t.Definition.Name
	if err := llm.ValidateToolName(name); err != nil {
		return err
	}
	if t.Exec == nil {
		return fmt.Errorf("tool %s missing executor", name)
	}
	if t.Cap == (ObservationCap{}) {
		t.Cap = capFor(name)
	}
	if t.Schema == nil {
		s, err := compileSchema(t.Definition.Parameters)
		if err != nil {
			return fmt.Errorf("tool %s schema: %w", name, err)
		}
		t.Schema = s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = map[string]RegisteredTool{}
	}
	r.tools[name] = t
	return nil
}

// Definitions are sorted by name.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteCall never fails: unknown tools, malformed arguments and executor
// errors all come back as error observations the model can react to.
func (r *ToolRegistry) ExecuteCall(ctx context.Context, call llm.ToolCallData) ToolExecResult {
	id := call.ID
	if strings.TrimSpace(id) == "" {
		id = derivedCallID(call.Name, call.Arguments)
	}

	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return observe(call.Name, id, fmt.Sprintf("unknown tool: %s", call.Name), true, capFor(call.Name))
	}

	args, err := decodeArgs(call.Arguments, t.Schema)
	if err != nil {
		return observe(call.Name, id, err.Error(), true, t.Cap)
	}

	v, err := t.Exec(ctx, args)
	text := renderToolValue(v)
	if err != nil {
		if v == nil || strings.TrimSpace(text) == "" {
			text = fmt.Sprintf("Error: %v", err)
		}
		return observe(call.Name, id, text, true, t.Cap)
	}
	return observe(call.Name, id, text, false, t.Cap)
}

func decodeArgs(raw json.RawMessage, schema *jsonschema.Schema) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid tool arguments JSON: %v", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	if err := schema.Validate(args); err != nil {
		return nil, fmt.Errorf("tool args schema validation failed: %v", err)
	}
	return args, nil
}

func observe(toolName, callID, full string, isErr bool, c ObservationCap) ToolExecResult {
	out, clipped := clipObservation(full, c)
	return ToolExecResult{
		ToolName:   toolName,
		CallID:     callID,
		Output:     out,
		FullOutput: full,
		IsError:    isErr,
		Clipped:    clipped,
	}
}

// clipObservation keeps a prefix of whole lines so the model can resume with
// view_range at the first hidden line. A single line longer than MaxBytes is
// cut at a rune boundary instead.
func clipObservation(s string, c ObservationCap) (string, bool) {
	overBytes := c.MaxBytes > 0 && len(s) > c.MaxBytes
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	overLines := c.MaxLines > 0 && len(lines) > c.MaxLines
	if !overBytes && !overLines {
		return s, false
	}

	kept, size := 0, 0
	for _, l := range lines {
		if c.MaxLines > 0 && kept == c.MaxLines {
			break
		}
		if c.MaxBytes > 0 && size+len(l)+1 > c.MaxBytes {
			break
		}
		size += len(l) + 1
		kept++
	}
	if kept == 0 {
		cut := c.MaxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + fmt.Sprintf("\n\n[Output clipped after %d of %d bytes.]", cut, len(s)), true
	}
	head := strings.Join(lines[:kept], "\n")
	note := fmt.Sprintf("\n\n[Output clipped at line %d of %d. Call view with view_range [%d, %d] to read the rest.]",
		kept, len(lines), kept+1, len(lines))
	return head + note, true
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// renderToolValue turns an executor result into observation text. Strings
// pass through; anything else is indented JSON.
func renderToolValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// derivedCallID gives id-less calls a stable id from their name and arguments.
func derivedCallID(name string, args []byte) string {
	h := blake3.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(args)
	return "call_" + hex.EncodeToString(h.Sum(nil)[:8])
}
