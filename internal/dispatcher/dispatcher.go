// Package dispatcher implements C8: the 13-step dispatch flow that turns
// one NormalizedMessage into a DispatchResult, driving the session store,
// identity resolution, tool registry, execution tracker, and memory
// subsystem through a single bounded tool-call loop. Grounded on
// original_source/stark-backend/src/channels/dispatcher.rs's dispatch and
// generate_with_tool_loop, reshaped into the teacher's AgenticLoop idiom
// (internal/agent/loop.go): a config-with-defaults struct, a phase-tagged
// iteration loop, and persist-then-emit-then-continue steps.
package dispatcher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/starkbot-agent/core/internal/errs"
	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/internal/identity"
	"github.com/starkbot-agent/core/internal/llm"
	"github.com/starkbot-agent/core/internal/memory"
	"github.com/starkbot-agent/core/internal/sessions"
	"github.com/starkbot-agent/core/internal/tools"
	"github.com/starkbot-agent/core/internal/tracker"
	"github.com/starkbot-agent/core/internal/wallet"
	"github.com/starkbot-agent/core/pkg/models"
)

// maxToolIterations bounds the tool-call loop, mirroring MAX_TOOL_ITERATIONS.
const maxToolIterations = 10

// historyWindow is how many prior session messages are folded into the
// request alongside the system prompt and the current message.
const historyWindow = 20

// Dispatcher wires together every collaborator the 13-step flow touches.
type Dispatcher struct {
	Sessions    sessions.Store
	Identities  *identity.MemoryStore
	Tracker     *tracker.Tracker
	Broadcaster *events.Broadcaster
	Registry    *tools.Registry
	Memory      *memory.Store
	Skills      map[string]Skill
	Wallet      wallet.Provider
	AgentConfig models.AgentSettings
	ToolConfig  models.ToolConfig

	// providerOverride lets tests substitute a stub llm.Provider instead of
	// constructing a real SDK client from AgentConfig via buildProvider.
	providerOverride llm.Provider
}

// New builds a Dispatcher from its collaborators, defaulting the skill
// catalog to SeedSkills and the memory store to a fresh one if nil.
func New(sessionStore sessions.Store, identities *identity.MemoryStore, trk *tracker.Tracker, broadcaster *events.Broadcaster, registry *tools.Registry, walletProvider wallet.Provider, agentSettings models.AgentSettings, toolConfig models.ToolConfig) *Dispatcher {
	return &Dispatcher{
		Sessions:    sessionStore,
		Identities:  identities,
		Tracker:     trk,
		Broadcaster: broadcaster,
		Registry:    registry,
		Memory:      memory.New(),
		Skills:      SeedSkills(),
		Wallet:      walletProvider,
		AgentConfig: agentSettings,
		ToolConfig:  toolConfig,
	}
}

// Dispatch runs the full 13-step flow for one inbound message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult {
	key := sessions.KeyFor(models.ChannelType(msg.ChannelType), msg.ChannelID, msg.ChatID, msg.ScopeValue())

	// Steps 1-2: /new and /reset are handled before anything else touches
	// the LLM or the tool loop; they clear session history and registers.
	trimmed := strings.TrimSpace(msg.Text)
	if trimmed == "/new" || trimmed == "/reset" {
		if _, err := d.Sessions.Reset(ctx, key, models.ChannelType(msg.ChannelType), msg.ChannelID, msg.ChatID, msg.ScopeValue()); err != nil {
			return models.DispatchResult{Error: err.Error()}
		}
		return models.DispatchResult{Response: "Started a fresh conversation."}
	}

	// Step 3: resolve (or create) the session for this (channel, chat, scope).
	session, err := d.Sessions.GetOrCreate(ctx, key, models.ChannelType(msg.ChannelType), msg.ChannelID, msg.ChatID, msg.ScopeValue())
	if err != nil {
		return models.DispatchResult{Error: err.Error()}
	}

	// Step 4: resolve the canonical identity behind this channel user.
	ident, err := d.Identities.GetOrCreateForChannel(ctx, msg.ChannelType, msg.UserID, msg.UserName)
	if err != nil {
		return models.DispatchResult{Error: err.Error()}
	}

	// Step 5: load agent settings. Absence is a terminal error.
	if d.AgentConfig.APIKey == "" {
		return models.DispatchResult{Error: "agent is not configured: missing API key"}
	}

	// Begin execution tracking; completed at step 13 regardless of outcome.
	execCtx, executionID := d.Tracker.StartExecution(ctx, msg.ChannelID, msg.ChatID, session.ID)
	defer d.Tracker.CompleteExecution(executionID)

	if err := d.Sessions.MarkStatus(execCtx, session.ID, models.CompletionRunning); err != nil {
		return models.DispatchResult{Error: err.Error()}
	}
	defer d.Sessions.MarkStatus(execCtx, session.ID, models.CompletionIdle)

	if err := d.persistInboundMessage(execCtx, session.ID, msg); err != nil {
		return models.DispatchResult{Error: err.Error()}
	}

	// Step 6: instantiate the LLM client, plumbing the wallet provider
	// through context so a paid tool can reach it mid-loop.
	provider := d.providerOverride
	if provider == nil {
		var err error
		provider, err = buildProvider(d.AgentConfig)
		if err != nil {
			return models.DispatchResult{Error: err.Error()}
		}
	}
	if d.Wallet != nil {
		execCtx = wallet.WithContext(execCtx, d.Wallet)
	}

	toolCfg := d.effectiveToolConfig(msg)

	// Step 7: resolve which tool config applies, used both by the system
	// prompt's tool catalog and by every Execute call in the loop below.

	// Step 8: build the system prompt.
	systemPrompt := buildSystemPrompt(execCtx, d.Registry, toolCfg, d.Skills, d.Memory, ident.CanonicalID)

	// Step 9: assemble messages = system + last 20 history (excluding the
	// message just persisted) + current user text.
	history, err := d.Sessions.RecentMessages(execCtx, session.ID, historyWindow+1)
	if err != nil {
		return models.DispatchResult{Error: err.Error()}
	}
	conversation := buildConversation(systemPrompt, history, msg.Text)

	// Step 10: bounded tool-call loop.
	finalBody, loopErr := d.runToolLoop(execCtx, provider, toolCfg, msg.ChannelID, conversation)
	if loopErr != nil {
		return models.DispatchResult{Error: loopErr.Error()}
	}

	// Step 11: extract and strip memory markers.
	cleaned := d.extractMemoryMarkers(execCtx, ident.CanonicalID, session, msg, finalBody)

	// Step 12: persist the cleaned response and broadcast it.
	if err := d.persistAssistantMessage(execCtx, session.ID, cleaned); err != nil {
		return models.DispatchResult{Error: err.Error()}
	}
	if d.Broadcaster != nil {
		d.Broadcaster.Publish(models.NewEvent(models.EventAgentResponse, msg.ChannelID, map[string]any{
			"response": cleaned,
		}))
	}

	// Step 13: execution completion runs via the deferred CompleteExecution.
	return models.DispatchResult{Response: cleaned}
}

// effectiveToolConfig applies a forced SafeMode override for this message,
// without mutating the Dispatcher's configured default.
func (d *Dispatcher) effectiveToolConfig(msg models.NormalizedMessage) models.ToolConfig {
	cfg := d.ToolConfig
	if msg.ForceSafeMode {
		cfg.Profile = models.ProfileSafeMode
	}
	return cfg
}

func buildConversation(systemPrompt string, history []*models.Message, currentText string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})

	// history includes the just-persisted current message as its last
	// entry; drop it since it's appended separately below.
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Content == currentText && last.Role == models.RoleUser {
			history = history[:n-1]
		}
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: currentText})
	return messages
}

// runToolLoop drives step 10: ask the model for a completion, parse its
// envelope, and either return its body as the final response or execute
// the requested tool (or expand the requested skill) and continue.
func (d *Dispatcher) runToolLoop(ctx context.Context, provider llm.Provider, toolCfg models.ToolConfig, channelID int64, messages []llm.Message) (string, error) {
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		req := llm.Request{
			Model:    d.AgentConfig.Model,
			Messages: messages,
		}
		// system content already lives in messages[0]; pull it back out
		// for providers that want it split from the transcript.
		if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
			req.System = messages[0].Content
			req.Messages = messages[1:]
		}

		resp, err := generateWithRetry(ctx, channelID, d.Broadcaster, func(ctx context.Context) (*llm.Response, error) {
			return provider.GenerateText(ctx, req)
		})
		if err != nil {
			return "", errs.Transient("dispatcher.runToolLoop", err)
		}

		env := parseEnvelope(resp.Text)
		if env.ToolCall == nil {
			return env.Body, nil
		}

		toolOutput := d.invokeTool(ctx, toolCfg, channelID, *env.ToolCall)

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
			llm.Message{Role: llm.RoleUser, Content: "Tool result:\n" + toolOutput + "\n\nContinue. Reply with the required JSON envelope."},
		)
	}

	return "", errs.Transient("dispatcher.runToolLoop", errMaxIterationsExceeded)
}

var errMaxIterationsExceeded = maxIterationsErr{}

type maxIterationsErr struct{}

func (maxIterationsErr) Error() string { return "exceeded maximum tool-call iterations" }

// invokeTool executes one parsed tool call: use_skill is expanded from the
// skill catalog rather than run through the registry, matching
// execute_skill_tool's special casing in the original dispatch loop; every
// other tool_name goes through the registry under toolCfg.
func (d *Dispatcher) invokeTool(ctx context.Context, toolCfg models.ToolConfig, channelID int64, call models.ToolCall) string {
	if call.ToolName == "use_skill" {
		var params struct {
			SkillName string `json:"skill_name"`
			Input     string `json:"input"`
		}
		_ = json.Unmarshal(call.ToolParams, &params)
		skill, ok := d.Skills[params.SkillName]
		if !ok {
			return skillNotFoundMessage(params.SkillName, d.Skills)
		}
		out := expandSkill(skill, params.Input)
		d.broadcastToolResult(channelID, "use_skill", true, out)
		return out
	}

	tool, ok := d.Registry.Get(call.ToolName)
	if !ok || !tools.Allowed(toolCfg, tool) {
		msg := "tool '" + call.ToolName + "' is not available under the current tool policy"
		d.broadcastToolResult(channelID, call.ToolName, false, msg)
		return msg
	}

	result, err := d.Registry.Execute(ctx, call.ToolName, call.ToolParams)
	if err != nil {
		d.broadcastToolResult(channelID, call.ToolName, false, err.Error())
		return err.Error()
	}
	d.broadcastToolResult(channelID, call.ToolName, result.Success, result.Content)
	return result.Content
}

func (d *Dispatcher) broadcastToolResult(channelID int64, name string, success bool, content string) {
	if d.Broadcaster == nil {
		return
	}
	d.Broadcaster.Publish(models.NewEvent(models.EventToolResult, channelID, map[string]any{
		"success": success,
		"content": content,
	}).WithTool(name))
}

func (d *Dispatcher) persistInboundMessage(ctx context.Context, sessionID string, msg models.NormalizedMessage) error {
	return d.Sessions.AppendMessage(ctx, sessionID, &models.Message{
		Role:      models.RoleUser,
		Content:   msg.Text,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		MessageID: msg.MessageID,
	})
}

func (d *Dispatcher) persistAssistantMessage(ctx context.Context, sessionID, content string) error {
	return d.Sessions.AppendMessage(ctx, sessionID, &models.Message{
		Role:    models.RoleAssistant,
		Content: content,
	})
}
