package models

import "time"

// TaskType distinguishes the root execution from its children.
type TaskType string

const (
	TaskExecution     TaskType = "execution"
	TaskToolExecution TaskType = "tool_execution"
	TaskThinking      TaskType = "thinking"
)

// TaskStatus is the lifecycle state of one ExecutionTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// TaskMetrics aggregates into the root task at completion. A parent's
// metrics at completion must be >= the sum of its children's metrics.
type TaskMetrics struct {
	ToolUses   int   `json:"tool_uses"`
	TokensUsed int64 `json:"tokens_used"`
	LinesRead  int64 `json:"lines_read"`
	DurationMs int64 `json:"duration_ms"`
	ChildCount int   `json:"child_count"`
}

// Add accumulates another task's metrics into the receiver, mirroring the
// invariant that a completed parent's metrics include its children's.
func (m *TaskMetrics) Add(other TaskMetrics) {
	m.ToolUses += other.ToolUses
	m.TokensUsed += other.TokensUsed
	m.LinesRead += other.LinesRead
	m.DurationMs += other.DurationMs
}

// ExecutionTask is one node of the hierarchical task tree rooted at a
// per-channel "execution" task. Children point to parents by string ID, not
// by back-reference, so the tree stays acyclic by construction.
type ExecutionTask struct {
	ID           string      `json:"id"`
	ParentID     string      `json:"parent_id,omitempty"`
	ChannelID    int64       `json:"channel_id"`
	ChatID       string      `json:"chat_id,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	Type         TaskType    `json:"type"`
	Status       TaskStatus  `json:"status"`
	Description  string      `json:"description"`
	ActiveForm   string      `json:"active_form"`
	Metrics      TaskMetrics `json:"metrics"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	ErrorMessage string      `json:"error,omitempty"`
}
