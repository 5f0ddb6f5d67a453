package tracker

import (
	"context"
	"testing"

	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/pkg/models"
)

func TestStartExecutionAndCompleteAggregatesChildMetrics(t *testing.T) {
	tr := New(events.NewBroadcaster())
	_, execID := tr.StartExecution(context.Background(), 1, "chat", "session-1")

	tool := tr.StartTool(execID, "read_file", map[string]any{"path": "a/b.txt"})
	if tool.Description != "Reading `b.txt`" {
		t.Fatalf("expected derived description, got %q", tool.Description)
	}
	tr.UpdateMetrics(tool.ID, models.TaskMetrics{ToolUses: 1, TokensUsed: 10})
	tr.CompleteTask(tool.ID)

	tr.CompleteExecution(execID)

	root := tr.tasks[execID]
	if root.Status != models.TaskCompleted {
		t.Fatalf("expected execution completed, got %s", root.Status)
	}
	if root.Metrics.ToolUses != 1 || root.Metrics.TokensUsed != 10 {
		t.Fatalf("expected aggregated metrics, got %+v", root.Metrics)
	}
	if root.Metrics.ChildCount != 1 {
		t.Fatalf("expected child count 1, got %d", root.Metrics.ChildCount)
	}
}

func TestCancelExecutionSetsFlagAndCancelsContext(t *testing.T) {
	tr := New(events.NewBroadcaster())
	ctx, _ := tr.StartExecution(context.Background(), 7, "chat", "")

	tr.CancelExecution(7)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
	if !tr.IsCancelled(7) {
		t.Fatal("expected cancelled flag to be set")
	}
}

func TestDescribeToolCallSpecialCases(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"exec", map[string]any{"command": "curl https://api.example.com/v1"}, "Running `curl` against api.example.com"},
		{"web_fetch", map[string]any{"url": "https://example.com/page"}, "Fetching example.com"},
	}
	for _, c := range cases {
		if got := describeToolCall(c.name, c.args); got != c.want {
			t.Fatalf("describeToolCall(%s) = %q, want %q", c.name, got, c.want)
		}
	}
}
