// Package tools implements the tool registry (C5): thread-safe registration
// and lookup of callable tools, gated by a models.ToolConfig profile.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/starkbot-agent/core/pkg/models"
)

// Tool is a single callable capability exposed to the LLM.
type Tool interface {
	Name() string
	Description() string
	Group() models.ToolGroup
	Safety() models.SafetyLevel
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry by its name, replacing any existing
// tool registered under the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name with the given JSON parameters, after
// checking the parameter size caps. It does not consult ToolConfig — callers
// gate visibility via Allowed before ever reaching Execute.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{Success: false, Content: "tool not found: " + name}, nil
	}
	return tool.Execute(ctx, params)
}

// Allowed reports whether a tool may be listed to the model under the given
// ToolConfig. deny_list always wins. SafeMode may only ever reach
// models.SafeModeAllowList plus the entire Web group, regardless of any
// other field on the config.
func Allowed(cfg models.ToolConfig, tool Tool) bool {
	name := tool.Name()
	for _, denied := range cfg.DenyList {
		if denied == name {
			return false
		}
	}

	if cfg.Profile == models.ProfileSafeMode {
		if tool.Group() == models.GroupWeb {
			return true
		}
		for _, allowed := range models.SafeModeAllowList {
			if allowed == name {
				return true
			}
		}
		return false
	}

	if len(cfg.AllowList) > 0 {
		for _, allowed := range cfg.AllowList {
			if allowed == name {
				return true
			}
		}
		return false
	}

	if len(cfg.AllowedGroups) > 0 {
		for _, g := range cfg.AllowedGroups {
			if g == tool.Group() {
				return true
			}
		}
		return false
	}

	return true
}

// List returns every registered tool that Allowed permits under cfg, in the
// shape the dispatcher hands to an llm.Provider as its tool catalog.
func (r *Registry) List(cfg models.ToolConfig) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if Allowed(cfg, t) {
			out = append(out, t)
		}
	}
	return out
}
