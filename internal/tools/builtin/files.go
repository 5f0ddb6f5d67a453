package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starkbot-agent/core/pkg/models"
)

const maxFileBytes = 5 << 20 // 5MB

// ReadFile reads a file's contents, confined to Root.
type ReadFile struct {
	Root string
}

func (t *ReadFile) Name() string               { return "read_file" }
func (t *ReadFile) Group() models.ToolGroup    { return models.GroupFilesystem }
func (t *ReadFile) Safety() models.SafetyLevel { return models.SafetyReadOnly }
func (t *ReadFile) Description() string        { return "Reads a file's contents from the workspace." }

func (t *ReadFile) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
}

type fileParams struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

func (t *ReadFile) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p fileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	resolved, err := resolveWithinRoot(t.Root, p.Path)
	if err != nil {
		return &models.ToolResult{Success: false, Content: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to read %s: %v", p.Path, err)}, nil
	}
	if len(data) > maxFileBytes {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("%s exceeds the %d byte read limit", p.Path, maxFileBytes)}, nil
	}
	return &models.ToolResult{Success: true, Content: string(data)}, nil
}

// WriteFile writes a file's contents, confined to Root.
type WriteFile struct {
	Root string
}

func (t *WriteFile) Name() string               { return "write_file" }
func (t *WriteFile) Group() models.ToolGroup    { return models.GroupFilesystem }
func (t *WriteFile) Safety() models.SafetyLevel { return models.SafetyStandard }
func (t *WriteFile) Description() string        { return "Writes content to a file in the workspace, creating it if absent." }

func (t *WriteFile) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}, "content": {"type": "string"}},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFile) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p fileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if len(p.Content) > maxFileBytes {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("content exceeds the %d byte write limit", maxFileBytes)}, nil
	}
	resolved, err := resolveWithinRoot(t.Root, p.Path)
	if err != nil {
		return &models.ToolResult{Success: false, Content: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to create directory: %v", err)}, nil
	}
	if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to write %s: %v", p.Path, err)}, nil
	}
	return &models.ToolResult{Success: true, Content: fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path)}, nil
}

// resolveWithinRoot joins root and path, rejecting any result that escapes
// root via ".." traversal.
func resolveWithinRoot(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root: %w", err)
	}
	joined := filepath.Join(cleanRoot, path)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return resolved, nil
}
