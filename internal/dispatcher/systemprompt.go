package dispatcher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/starkbot-agent/core/internal/memory"
	"github.com/starkbot-agent/core/internal/tools"
	"github.com/starkbot-agent/core/pkg/models"
)

const responseFormatSection = `## RESPONSE FORMAT (CRITICAL)

Every reply MUST be a single JSON object of one of these two shapes, and
nothing else:

Plain response, no tool call:
{"body": "your message to the user", "tool_call": null}

Calling a tool:
{"body": "", "tool_call": {"tool_name": "...", "tool_params": {...}}}

`

const examplesSection = `## EXAMPLES

User asks for the weather: call exec with a curl against a weather service,
then report the result in the body of your next reply.

User asks a question you can answer directly: reply with {"body": "...",
"tool_call": null}.

User asks something a skill covers: call use_skill with that skill's name
and the user's question as input.

`

type functionSchema struct {
	Type     string         `json:"type"`
	Function functionDetail `json:"function"`
}

type functionDetail struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// buildSystemPrompt assembles the dispatcher's system prompt: the mandatory
// JSON-shape directive, the tool catalog (registry tools plus the
// synthesized use_skill entry), a handful of examples, per-skill detail
// blocks, and this identity's memory (today's daily logs plus the top
// long-term facts), grounded on build_system_prompt.
func buildSystemPrompt(ctx context.Context, registry *tools.Registry, toolCfg models.ToolConfig, skills map[string]Skill, mem *memory.Store, identityID string) string {
	var b strings.Builder
	b.WriteString("You are StarkBot, an AI agent who can respond to users and operate tools.\n\n")
	b.WriteString(responseFormatSection)

	b.WriteString("## AVAILABLE TOOLS\n\n")
	b.WriteString(toolCatalogJSON(registry, toolCfg, skills))
	b.WriteString("\n\n")

	b.WriteString(examplesSection)

	b.WriteString("**IMPORTANT**: For weather, news, or live data - USE TOOLS IMMEDIATELY. " +
		"Do not say you cannot access real-time data.\n\n")

	if len(skills) > 0 {
		b.WriteString("## SKILL DETAILS\n\n")
		for _, skill := range skills {
			b.WriteString("- " + skill.Name + ": " + skill.Description + "\n")
			if skill.Instructions != "" {
				b.WriteString("  " + firstLines(skill.Instructions, 3) + "\n")
			}
		}
		b.WriteString("\n")
	}

	if mem != nil && identityID != "" {
		logs := mem.DailyLogsToday(ctx, identityID)
		if len(logs) > 0 {
			b.WriteString("## Today's Notes\n\n")
			for _, l := range logs {
				b.WriteString("- " + l.Content + "\n")
			}
			b.WriteString("\n")
		}
		if facts := mem.TopLongTerm(ctx, identityID, 10); len(facts) > 0 {
			b.WriteString("## Remembered Facts\n\n")
			for _, f := range facts {
				b.WriteString("- " + f.Content + "\n")
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func toolCatalogJSON(registry *tools.Registry, toolCfg models.ToolConfig, skills map[string]Skill) string {
	var entries []functionSchema
	for _, t := range registry.List(toolCfg) {
		entries = append(entries, functionSchema{
			Type: "function",
			Function: functionDetail{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}

	if len(skills) > 0 {
		names := make([]string, 0, len(skills))
		for n := range skills {
			names = append(names, n)
		}
		schema := useSkillSchema(names)
		entries = append(entries, functionSchema{
			Type: "function",
			Function: functionDetail{
				Name:        "use_skill",
				Description: "Invoke a named skill with a free-text input",
				Parameters:  schema,
			},
		})
	}

	out, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(out)
}

func useSkillSchema(names []string) json.RawMessage {
	type prop struct {
		Type string   `json:"type"`
		Enum []string `json:"enum,omitempty"`
	}
	schema := struct {
		Type       string          `json:"type"`
		Properties map[string]prop `json:"properties"`
		Required   []string        `json:"required"`
	}{
		Type: "object",
		Properties: map[string]prop{
			"skill_name": {Type: "string", Enum: names},
			"input":      {Type: "string"},
		},
		Required: []string{"skill_name", "input"},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
