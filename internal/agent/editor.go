package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danshapiro/uigen/internal/llm"
	"github.com/danshapiro/uigen/internal/vfs"
)

const (
	EditorToolName = "str_replace_editor"
	DefaultPath    = "/App.jsx"
)

const (
	StrReplaceDisabledMessage  = "ERROR: The 'str_replace' command is disabled for safety. You MUST use the 'create' command to overwrite the entire file with the new content."
	UndoEditUnsupportedMessage = "Error: undo_edit command is not supported in this version. Use the 'create' command to rewrite the file instead."
)

// EditorCommand is one decoded str_replace_editor call. The set of
// implementations is closed: View, Create, StrReplace, Insert and UndoEdit.
type EditorCommand interface {
	Name() string
	Target() string
	editorCommand()
}

type ViewCommand struct {
	Path  string
	Range *[2]int
}

type CreateCommand struct {
	Path     string
	FileText string
}

type StrReplaceCommand struct {
	Path   string
	OldStr string
	NewStr string
}

type InsertCommand struct {
	Path   string
	Line   int
	NewStr string
}

type UndoEditCommand struct {
	Path string
}

func (ViewCommand) Name() string       { return "view" }
func (CreateCommand) Name() string     { return "create" }
func (StrReplaceCommand) Name() string { return "str_replace" }
func (InsertCommand) Name() string     { return "insert" }
func (UndoEditCommand) Name() string   { return "undo_edit" }

func (c ViewCommand) Target() string       { return c.Path }
func (c CreateCommand) Target() string     { return c.Path }
func (c StrReplaceCommand) Target() string { return c.Path }
func (c InsertCommand) Target() string     { return c.Path }
func (c UndoEditCommand) Target() string   { return c.Path }

func (ViewCommand) editorCommand()       {}
func (CreateCommand) editorCommand()     {}
func (StrReplaceCommand) editorCommand() {}
func (InsertCommand) editorCommand()     {}
func (UndoEditCommand) editorCommand()   {}

type editorArgs struct {
	Command    string  `json:"command"`
	Path       string  `json:"path"`
	FileText   *string `json:"file_text"`
	InsertLine *int    `json:"insert_line"`
	NewStr     *string `json:"new_str"`
	OldStr     *string `json:"old_str"`
	ViewRange  []int   `json:"view_range"`
}

// ParseEditorCommand decodes validated tool arguments into a typed command.
// A blank path falls back to DefaultPath.
func ParseEditorCommand(args map[string]any) (EditorCommand, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode editor arguments: %w", err)
	}
	var a editorArgs
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode editor arguments: %w", err)
	}
	path := strings.TrimSpace(a.Path)
	if path == "" {
		path = DefaultPath
	}

	switch a.Command {
	case "view":
		cmd := ViewCommand{Path: path}
		if a.ViewRange != nil {
			if len(a.ViewRange) != 2 {
				return nil, fmt.Errorf("view_range must have exactly 2 elements, got %d", len(a.ViewRange))
			}
			cmd.Range = &[2]int{a.ViewRange[0], a.ViewRange[1]}
		}
		return cmd, nil
	case "create":
		if a.FileText == nil {
			return nil, fmt.Errorf("create requires file_text")
		}
		return CreateCommand{Path: path, FileText: *a.FileText}, nil
	case "str_replace":
		return StrReplaceCommand{Path: path, OldStr: deref(a.OldStr), NewStr: deref(a.NewStr)}, nil
	case "insert":
		if a.NewStr == nil {
			return nil, fmt.Errorf("insert requires new_str")
		}
		line := 0
		if a.InsertLine != nil {
			line = *a.InsertLine
		}
		return InsertCommand{Path: path, Line: line, NewStr: *a.NewStr}, nil
	case "undo_edit":
		return UndoEditCommand{Path: path}, nil
	default:
		return nil, fmt.Errorf("unknown editor command %q", a.Command)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ExecuteEditorCommand applies cmd to fs with no policy on top. Every
// outcome, including failures, is a string for the model.
func ExecuteEditorCommand(fs *vfs.FileSystem, cmd EditorCommand) string {
	switch c := cmd.(type) {
	case ViewCommand:
		return fs.ViewFile(c.Path, c.Range)
	case CreateCommand:
		return fs.CreateFileWithParents(c.Path, c.FileText)
	case StrReplaceCommand:
		return fs.ReplaceInFile(c.Path, c.OldStr, c.NewStr)
	case InsertCommand:
		return fs.InsertInFile(c.Path, c.Line, c.NewStr)
	case UndoEditCommand:
		return UndoEditUnsupportedMessage
	default:
		return fmt.Sprintf("Error: unsupported command %s", cmd.Name())
	}
}

func EditorDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        EditorToolName,
		Description: "A tool for viewing, creating, and editing files. Use 'create' to overwrite entire files.",
		Parameters:  EditorSchema(),
	}
}

// EditorSchema describes str_replace_editor arguments. create needs
// file_text and insert needs new_str; str_replace has no required fields
// so every attempt reaches the command handler.
func EditorSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type": "string",
				"enum": []string{"view", "create", "str_replace", "insert", "undo_edit"},
			},
			"path":        map[string]any{"type": "string", "description": "Absolute path, e.g. /App.jsx"},
			"file_text":   map[string]any{"type": "string", "description": "Full file content for create"},
			"insert_line": map[string]any{"type": "integer", "minimum": 0},
			"new_str":     map[string]any{"type": "string"},
			"old_str":     map[string]any{"type": "string"},
			"view_range": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "integer"},
				"minItems": 2,
				"maxItems": 2,
			},
		},
		"required": []string{"command"},
		"allOf": []any{
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"command": map[string]any{"const": "create"}}},
				"then": map[string]any{"required": []string{"file_text"}},
			},
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"command": map[string]any{"const": "insert"}}},
				"then": map[string]any{"required": []string{"new_str"}},
			},
		},
	}
}

// NewEditorTool registers the unrestricted editor against fs. The
// orchestrator wraps the same commands with its edit policy instead.
func NewEditorTool(fs *vfs.FileSystem) RegisteredTool {
	return RegisteredTool{
		Definition: EditorDefinition(),
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			cmd, err := ParseEditorCommand(args)
			if err != nil {
				return nil, err
			}
			return ExecuteEditorCommand(fs, cmd), nil
		},
	}
}
