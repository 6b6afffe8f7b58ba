// Package agenttools adapts standalone file, shell, and browser
// capabilities into toolregistry.Handler closures for the
// coder/system/file/browser/research sub-agents. Grounded on
// internal/tools/files (path resolution, read/write semantics) and
// internal/tools/exec (command timeout/cwd/env shape), re-expressed
// against the runtime's string-in/string-out tool contract instead of
// the *agent.ToolResult shape those packages return.
package agenttools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tarsline/agentrt/internal/toolregistry"
	"github.com/tarsline/agentrt/internal/tools/files"
	"github.com/tarsline/agentrt/pkg/models"
)

const defaultMaxReadBytes = 200_000

// RegisterFileTools adds read_file and write_file, scoped to workspace.
func RegisterFileTools(reg *toolregistry.Registry, workspace string) {
	resolver := files.Resolver{Root: workspace}

	reg.Register(models.ToolSpec{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		InputSchema: mustSchema(map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		}),
	}, func(ctx context.Context, input map[string]any) string {
		path, _ := input["path"].(string)
		resolved, err := resolver.Resolve(path)
		if err != nil {
			return toolregistry.ErrorPrefix + " " + err.Error()
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return fmt.Sprintf("%s read file: %v", toolregistry.ErrorPrefix, err)
		}
		if len(data) > defaultMaxReadBytes {
			data = data[:defaultMaxReadBytes]
		}
		return string(data)
	})

	reg.Register(models.ToolSpec{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		}),
	}, func(ctx context.Context, input map[string]any) string {
		path, _ := input["path"].(string)
		content, _ := input["content"].(string)
		resolved, err := resolver.Resolve(path)
		if err != nil {
			return toolregistry.ErrorPrefix + " " + err.Error()
		}
		if err := os.MkdirAll(parentDir(resolved), 0o755); err != nil {
			return fmt.Sprintf("%s create parent dirs: %v", toolregistry.ErrorPrefix, err)
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return fmt.Sprintf("%s write file: %v", toolregistry.ErrorPrefix, err)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), path)
	})
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, os.PathSeparator)
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
