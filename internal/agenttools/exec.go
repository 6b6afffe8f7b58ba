package agenttools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/tarsline/agentrt/internal/toolregistry"
	"github.com/tarsline/agentrt/pkg/models"
)

const defaultCommandTimeout = 30 * time.Second

// RegisterExecTool adds run_command, a timed shell invocation scoped to
// cwd. Grounded on internal/tools/exec.ExecTool's command/cwd/env/timeout
// shape, minus its background-process variant — no sub-agent here needs
// long-running detached jobs.
func RegisterExecTool(reg *toolregistry.Registry, cwd string) {
	reg.Register(models.ToolSpec{
		Name:        "run_command",
		Description: "Run a shell command and return its combined stdout/stderr.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":         map[string]any{"type": "string"},
				"timeout_seconds": map[string]any{"type": "integer"},
			},
			"required": []string{"command"},
		}),
	}, func(ctx context.Context, input map[string]any) string {
		command, _ := input["command"].(string)
		if command == "" {
			return toolregistry.ErrorPrefix + " command is required"
		}
		timeout := defaultCommandTimeout
		if secs, ok := input["timeout_seconds"].(float64); ok && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", command)
		cmd.Dir = cwd
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return fmt.Sprintf("%s command failed: %v\n%s", toolregistry.ErrorPrefix, err, out.String())
		}
		return out.String()
	})
}
