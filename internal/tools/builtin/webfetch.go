// Package builtin implements the seed catalog of tools the dispatcher wires
// into every tools.Registry: web_fetch, exec, read_file, write_file,
// token_lookup, broadcast_web3_tx, modify_kanban.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/starkbot-agent/core/internal/net/ssrf"
	"github.com/starkbot-agent/core/pkg/models"
)

const maxFetchBodyBytes = 1 << 20 // 1MB

// WebFetch retrieves a URL's body, refusing anything that resolves to a
// private or internal address.
type WebFetch struct {
	Client *http.Client
}

// NewWebFetch builds a WebFetch tool with a bounded-timeout HTTP client.
func NewWebFetch() *WebFetch {
	return &WebFetch{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *WebFetch) Name() string               { return "web_fetch" }
func (t *WebFetch) Group() models.ToolGroup    { return models.GroupWeb }
func (t *WebFetch) Safety() models.SafetyLevel { return models.SafetyReadOnly }

func (t *WebFetch) Description() string {
	return "Fetches the contents of a public URL over HTTP(S)."
}

func (t *WebFetch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"url": {"type": "string", "description": "The URL to fetch."}},
		"required": ["url"]
	}`)
}

type webFetchParams struct {
	URL string `json:"url"`
}

func (t *WebFetch) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p webFetchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}

	parsed, err := url.Parse(p.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &models.ToolResult{Success: false, Content: "url must be an absolute http(s) URL"}, nil
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("refused to fetch %s: %v", parsed.Hostname(), err)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to build request: %v", err)}, nil
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to read response: %v", err)}, nil
	}

	return &models.ToolResult{
		Success: resp.StatusCode < 400,
		Content: string(body),
		Metadata: map[string]any{
			"status_code": resp.StatusCode,
			"url":         p.URL,
		},
	}, nil
}
