// Package tracker implements the execution tracker (C6): a hierarchical
// task tree rooted at a per-channel "execution" task, with dual
// cancellation (context.CancelFunc for in-flight operations, a flag for
// synchronous check-points) per channel and per session.
package tracker

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/pkg/models"
)

// cancelState bundles a cancellation function with a synchronous-checkpoint
// flag, mirroring the spec's dual cancellation model.
type cancelState struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Tracker owns every in-flight execution task tree and broadcasts every
// state mutation through an events.Broadcaster.
type Tracker struct {
	mu sync.Mutex

	tasks map[string]*models.ExecutionTask

	channelExecution map[int64]string
	sessionExecution map[string]string

	channelCancel map[int64]*cancelState
	sessionCancel map[string]*cancelState

	broadcaster *events.Broadcaster
}

// New creates an empty Tracker wired to broadcaster for event emission.
func New(broadcaster *events.Broadcaster) *Tracker {
	return &Tracker{
		tasks:            make(map[string]*models.ExecutionTask),
		channelExecution: make(map[int64]string),
		sessionExecution: make(map[string]string),
		channelCancel:    make(map[int64]*cancelState),
		sessionCancel:    make(map[string]*cancelState),
		broadcaster:      broadcaster,
	}
}

// StartExecution starts a new root execution task for channelID/sessionID,
// clearing and replacing any prior cancellation state for both keys.
func (t *Tracker) StartExecution(parent context.Context, channelID int64, chatID, sessionID string) (context.Context, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	t.channelCancel[channelID] = &cancelState{cancel: cancel}
	if sessionID != "" {
		t.sessionCancel[sessionID] = &cancelState{cancel: cancel}
	}

	task := &models.ExecutionTask{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		ChatID:      chatID,
		SessionID:   sessionID,
		Type:        models.TaskExecution,
		Status:      models.TaskRunning,
		Description: "execution",
		ActiveForm:  "Running",
		StartedAt:   time.Now(),
	}
	t.tasks[task.ID] = task
	t.channelExecution[channelID] = task.ID
	if sessionID != "" {
		t.sessionExecution[sessionID] = task.ID
	}

	t.emit(models.EventExecutionStarted, channelID, task)
	return ctx, task.ID
}

// StartTask creates a child task under parentID.
func (t *Tracker) StartTask(parentID, description, activeForm string) *models.ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.tasks[parentID]
	var channelID int64
	var chatID, sessionID string
	if parent != nil {
		channelID, chatID, sessionID = parent.ChannelID, parent.ChatID, parent.SessionID
	}

	task := &models.ExecutionTask{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		ChannelID:   channelID,
		ChatID:      chatID,
		SessionID:   sessionID,
		Type:        models.TaskThinking,
		Status:      models.TaskRunning,
		Description: description,
		ActiveForm:  activeForm,
		StartedAt:   time.Now(),
	}
	t.tasks[task.ID] = task
	t.emit(models.EventTaskStarted, channelID, task)
	return task
}

// StartTool creates a child ToolExecution task, deriving a human
// description from the tool name and argument shape.
func (t *Tracker) StartTool(parentID, toolName string, args map[string]any) *models.ExecutionTask {
	description := describeToolCall(toolName, args)
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.tasks[parentID]
	var channelID int64
	var chatID, sessionID string
	if parent != nil {
		channelID, chatID, sessionID = parent.ChannelID, parent.ChatID, parent.SessionID
	}

	task := &models.ExecutionTask{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		ChannelID:   channelID,
		ChatID:      chatID,
		SessionID:   sessionID,
		Type:        models.TaskToolExecution,
		Status:      models.TaskRunning,
		Description: description,
		ActiveForm:  description,
		StartedAt:   time.Now(),
	}
	t.tasks[task.ID] = task
	t.emit(models.EventTaskStarted, channelID, task)
	return task
}

// describeToolCall derives a short human-readable description from a tool
// name and its arguments, e.g. read_file{path:"a/b.txt"} -> "Reading `b.txt`".
func describeToolCall(toolName string, args map[string]any) string {
	str := func(key string) (string, bool) {
		v, ok := args[key]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}

	switch toolName {
	case "read_file", "write_file":
		if p, ok := str("path"); ok {
			verb := "Reading"
			if toolName == "write_file" {
				verb = "Writing"
			}
			return fmt.Sprintf("%s `%s`", verb, path.Base(p))
		}
	case "exec":
		if cmd, ok := str("command"); ok {
			fields := strings.Fields(cmd)
			if len(fields) > 0 && fields[0] == "curl" {
				if host := hostFromArgs(fields); host != "" {
					return fmt.Sprintf("Running `curl` against %s", host)
				}
			}
			return fmt.Sprintf("Running `%s`", truncate(cmd, 60))
		}
	case "web_fetch":
		if u, ok := str("url"); ok {
			return fmt.Sprintf("Fetching %s", hostOf(u))
		}
	}
	return toolName
}

func hostFromArgs(fields []string) string {
	for _, f := range fields {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			return hostOf(f)
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// UpdateMetrics merges delta into taskID's metrics and emits task.updated.
func (t *Tracker) UpdateMetrics(taskID string, delta models.TaskMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return
	}
	task.Metrics.Add(delta)
	t.emit(models.EventTaskUpdated, task.ChannelID, task)
}

// CompleteTask marks taskID completed and emits task.completed.
func (t *Tracker) CompleteTask(taskID string) {
	t.complete(taskID, models.TaskCompleted, "")
}

// CompleteTaskWithError marks taskID errored and emits task.completed.
func (t *Tracker) CompleteTaskWithError(taskID, errMsg string) {
	t.complete(taskID, models.TaskError, errMsg)
}

func (t *Tracker) complete(taskID string, status models.TaskStatus, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return
	}
	now := time.Now()
	task.Status = status
	task.EndedAt = &now
	task.ErrorMessage = errMsg
	t.emit(models.EventTaskCompleted, task.ChannelID, task)
}

// CompleteExecution aggregates every child's metrics into the root task,
// marks it completed, and emits execution.completed.
func (t *Tracker) CompleteExecution(executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.tasks[executionID]
	if !ok {
		return
	}
	for _, task := range t.tasks {
		if task.ParentID == executionID {
			root.Metrics.Add(task.Metrics)
			root.Metrics.ChildCount++
		}
	}
	now := time.Now()
	root.Status = models.TaskCompleted
	root.EndedAt = &now
	t.emit(models.EventExecutionCompleted, root.ChannelID, root)
}

// CancelExecution cancels the in-flight execution for channelID: the
// context is cancelled immediately and the synchronous flag is set so
// non-context-aware check-points can also opt out.
func (t *Tracker) CancelExecution(channelID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cs, ok := t.channelCancel[channelID]; ok {
		cs.cancel()
		cs.cancelled = true
	}
	delete(t.channelExecution, channelID)
	t.emit(models.EventExecutionStopped, channelID, nil)
}

// CancelExecutionForSession cancels the in-flight execution for sessionID.
func (t *Tracker) CancelExecutionForSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.sessionCancel[sessionID]
	if !ok {
		return
	}
	cs.cancel()
	cs.cancelled = true
	var channelID int64
	if taskID, ok := t.sessionExecution[sessionID]; ok {
		if task, ok := t.tasks[taskID]; ok {
			channelID = task.ChannelID
		}
	}
	delete(t.sessionExecution, sessionID)
	t.emit(models.EventExecutionStopped, channelID, nil)
}

// IsCancelled reports whether channelID's execution has been flagged
// cancelled, for synchronous check-points that can't observe a context.
func (t *Tracker) IsCancelled(channelID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.channelCancel[channelID]
	return ok && cs.cancelled
}

func (t *Tracker) emit(event string, channelID int64, task *models.ExecutionTask) {
	if t.broadcaster == nil {
		return
	}
	t.broadcaster.Publish(models.NewEvent(event, channelID, task))
}
