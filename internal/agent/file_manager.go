package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/uigen/internal/llm"
	"github.com/danshapiro/uigen/internal/vfs"
)

const FileManagerToolName = "file_manager"

func FileManagerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":  map[string]any{"type": "string", "enum": []string{"rename", "delete"}},
			"path":     map[string]any{"type": "string", "minLength": 1},
			"new_path": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"command", "path"},
		"if":       map[string]any{"properties": map[string]any{"command": map[string]any{"const": "rename"}}},
		"then":     map[string]any{"required": []string{"new_path"}},
	}
}

// NewFileManagerTool renames or deletes files and directories in fs.
// Neither command counts against the edit budget.
func NewFileManagerTool(fs *vfs.FileSystem) RegisteredTool {
	return RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        FileManagerToolName,
			Description: "Rename or delete files or folders in the file system. Rename can also move files between folders.",
			Parameters:  FileManagerSchema(),
		},
		Exec: func(ctx context.Context, args map[string]any) (any, error) {
			cmd, _ := args["command"].(string)
			path, _ := args["path"].(string)
			switch cmd {
			case "rename":
				newPath, _ := args["new_path"].(string)
				return fs.Rename(strings.TrimSpace(path), strings.TrimSpace(newPath)), nil
			case "delete":
				return fs.DeleteFile(strings.TrimSpace(path)), nil
			default:
				return nil, fmt.Errorf("unknown file_manager command %q", cmd)
			}
		},
	}
}
