package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	execsafety "github.com/starkbot-agent/core/internal/exec"
	"github.com/starkbot-agent/core/internal/process"
	"github.com/starkbot-agent/core/pkg/models"
)

const execTimeout = 30 * time.Second

// execLaneConcurrency bounds how many shell-outs can run at once across
// every session, so a burst of tool calls can't fork-bomb the host.
const execLaneConcurrency = 4

// Exec runs a single command with an argument list (never through a shell),
// after validating the executable name and every argument against
// execsafety's shell-metacharacter/control-char/null-byte checks. Runs are
// serialized through a process.CommandQueue lane so concurrent tool calls
// can't exceed execLaneConcurrency in-flight processes.
type Exec struct {
	queue *process.CommandQueue
}

// NewExec builds an Exec tool with its own bounded command lane.
func NewExec() *Exec {
	q := process.NewCommandQueue()
	q.SetLaneConcurrency(process.LaneMain, execLaneConcurrency)
	return &Exec{queue: q}
}

func (t *Exec) Name() string               { return "exec" }
func (t *Exec) Group() models.ToolGroup    { return models.GroupExec }
func (t *Exec) Safety() models.SafetyLevel { return models.SafetyStandard }

func (t *Exec) Description() string {
	return "Runs a command with arguments, without a shell. No pipes, redirects, or globbing."
}

func (t *Exec) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"args": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["command"]
	}`)
}

type execParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (t *Exec) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p execParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}

	command, err := execsafety.SanitizeExecutableValue(p.Command)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("unsafe command: %v", err)}, nil
	}
	args, err := execsafety.SanitizeArguments(p.Args)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("unsafe argument: %v", err)}, nil
	}

	run := func(runCtx context.Context) (*models.ToolResult, error) {
		runCtx, cancel := context.WithTimeout(runCtx, execTimeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, command, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		result := &models.ToolResult{
			Success: runErr == nil,
			Content: stdout.String(),
			Metadata: map[string]any{
				"stderr":  stderr.String(),
				"command": command,
			},
		}
		if runErr != nil {
			result.Content = fmt.Sprintf("command failed: %v\nstdout: %s\nstderr: %s", runErr, stdout.String(), stderr.String())
		}
		return result, nil
	}

	if t.queue == nil {
		return run(ctx)
	}
	return process.EnqueueInLane(t.queue, process.LaneMain, run, &process.EnqueueOptions{Context: ctx})
}
