package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot-agent/core/pkg/models"
)

// KanbanStatus is one column of a channel's scratch task board.
type KanbanStatus string

const (
	KanbanReady      KanbanStatus = "ready"
	KanbanInProgress KanbanStatus = "in_progress"
	KanbanComplete   KanbanStatus = "complete"
)

// KanbanItem is one task on a channel's board.
type KanbanItem struct {
	ID          string       `json:"id"`
	ChannelID   int64        `json:"channel_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      KanbanStatus `json:"status"`
	Notes       []string     `json:"notes,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ModifyKanban is the RegisterStore-adjacent scratch task list tool: list,
// pick the next ready item (atomically moving it to in_progress),
// update status, add a note, or create a new item.
type ModifyKanban struct {
	mu    sync.Mutex
	items map[string]*KanbanItem
}

// NewModifyKanban builds an empty kanban tool.
func NewModifyKanban() *ModifyKanban {
	return &ModifyKanban{items: make(map[string]*KanbanItem)}
}

func (t *ModifyKanban) Name() string               { return "modify_kanban" }
func (t *ModifyKanban) Group() models.ToolGroup    { return models.GroupSystem }
func (t *ModifyKanban) Safety() models.SafetyLevel { return models.SafetyStandard }

func (t *ModifyKanban) Description() string {
	return "Manages a channel's scratch task board: list, pick_task, update_status, add_note, create."
}

func (t *ModifyKanban) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["list", "pick_task", "update_status", "add_note", "create"]},
			"status": {"type": "string", "enum": ["ready", "in_progress", "complete"]},
			"item_id": {"type": "string"},
			"title": {"type": "string"},
			"description": {"type": "string"}
		},
		"required": ["action"]
	}`)
}

type kanbanParams struct {
	Action      string `json:"action"`
	Status      string `json:"status"`
	ItemID      string `json:"item_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ChannelID   int64  `json:"channel_id"`
}

func (t *ModifyKanban) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p kanbanParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch p.Action {
	case "list":
		return t.list(p)
	case "pick_task":
		return t.pickTask(p)
	case "update_status":
		return t.updateStatus(p)
	case "add_note":
		return t.addNote(p)
	case "create":
		return t.create(p)
	default:
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("unknown action %q", p.Action)}, nil
	}
}

func (t *ModifyKanban) list(p kanbanParams) (*models.ToolResult, error) {
	var matched []*KanbanItem
	for _, item := range t.items {
		if p.ChannelID != 0 && item.ChannelID != p.ChannelID {
			continue
		}
		if p.Status != "" && string(item.Status) != p.Status {
			continue
		}
		matched = append(matched, item)
	}
	body, _ := json.Marshal(matched)
	return &models.ToolResult{Success: true, Content: string(body)}, nil
}

func (t *ModifyKanban) pickTask(p kanbanParams) (*models.ToolResult, error) {
	for _, item := range t.items {
		if item.Status != KanbanReady {
			continue
		}
		if p.ChannelID != 0 && item.ChannelID != p.ChannelID {
			continue
		}
		item.Status = KanbanInProgress
		item.UpdatedAt = time.Now()
		body, _ := json.Marshal(item)
		return &models.ToolResult{Success: true, Content: string(body)}, nil
	}
	return &models.ToolResult{Success: false, Content: "no ready tasks available"}, nil
}

func (t *ModifyKanban) updateStatus(p kanbanParams) (*models.ToolResult, error) {
	item, ok := t.items[p.ItemID]
	if !ok {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("item %s not found", p.ItemID)}, nil
	}
	item.Status = KanbanStatus(p.Status)
	item.UpdatedAt = time.Now()
	body, _ := json.Marshal(item)
	return &models.ToolResult{Success: true, Content: string(body)}, nil
}

func (t *ModifyKanban) addNote(p kanbanParams) (*models.ToolResult, error) {
	item, ok := t.items[p.ItemID]
	if !ok {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("item %s not found", p.ItemID)}, nil
	}
	item.Notes = append(item.Notes, p.Description)
	item.UpdatedAt = time.Now()
	body, _ := json.Marshal(item)
	return &models.ToolResult{Success: true, Content: string(body)}, nil
}

func (t *ModifyKanban) create(p kanbanParams) (*models.ToolResult, error) {
	now := time.Now()
	item := &KanbanItem{
		ID:          uuid.NewString(),
		ChannelID:   p.ChannelID,
		Title:       p.Title,
		Description: p.Description,
		Status:      KanbanReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.items[item.ID] = item
	body, _ := json.Marshal(item)
	return &models.ToolResult{Success: true, Content: string(body)}, nil
}
