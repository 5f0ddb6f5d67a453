package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/internal/identity"
	"github.com/starkbot-agent/core/internal/llm"
	"github.com/starkbot-agent/core/internal/tools"
	"github.com/starkbot-agent/core/internal/tracker"
	"github.com/starkbot-agent/core/pkg/models"
)

// fakeSessionStore is an in-memory sessions.Store stub for dispatcher tests.
type fakeSessionStore struct {
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	resets   int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

func (f *fakeSessionStore) GetOrCreate(ctx context.Context, key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) (*models.Session, error) {
	if s, ok := f.sessions[key]; ok {
		return s, nil
	}
	s := &models.Session{ID: key, ChannelType: channelType, ChannelID: channelID, ChatID: chatID, Scope: scope}
	f.sessions[key] = s
	return s, nil
}

func (f *fakeSessionStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return nil
}

func (f *fakeSessionStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	msgs := f.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeSessionStore) MarkStatus(ctx context.Context, sessionID string, status models.CompletionStatus) error {
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeSessionStore) Reset(ctx context.Context, key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) (*models.Session, error) {
	f.resets++
	delete(f.messages, key)
	s := &models.Session{ID: key, ChannelType: channelType, ChannelID: channelID, ChatID: chatID, Scope: scope}
	f.sessions[key] = s
	return s, nil
}

// scriptedProvider returns one llm.Response per call, in order, looping on
// the last entry once exhausted.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool   { return false }
func (p *scriptedProvider) GenerateWithTools(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return p.GenerateText(ctx, req)
}
func (p *scriptedProvider) GenerateText(ctx context.Context, req llm.Request) (*llm.Response, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return &llm.Response{Text: p.responses[idx]}, nil
}

type echoTool struct{}

func (echoTool) Name() string                { return "echo" }
func (echoTool) Description() string         { return "echoes its input" }
func (echoTool) Group() models.ToolGroup     { return models.GroupSystem }
func (echoTool) Safety() models.SafetyLevel  { return models.SafetyReadOnly }
func (echoTool) Schema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Success: true, Content: "echoed: " + string(params)}, nil
}

func newTestDispatcher(t *testing.T, provider llm.Provider) (*Dispatcher, *fakeSessionStore) {
	t.Helper()
	sessionStore := newFakeSessionStore()
	identities := identity.NewMemoryStore()
	broadcaster := events.NewBroadcaster()
	trk := tracker.New(broadcaster)
	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	d := New(sessionStore, identities, trk, broadcaster, registry, nil, models.AgentSettings{
		Provider: "anthropic",
		Model:    "test-model",
		APIKey:   "test-key",
	}, models.DefaultToolConfig())

	d.providerOverride = provider
	return d, sessionStore
}

func testMessage(text string) models.NormalizedMessage {
	return models.NormalizedMessage{
		ChannelID:   1,
		ChannelType: "web",
		ChatID:      "chat-1",
		UserID:      "user-1",
		UserName:    "alice",
		Text:        text,
	}
}

func TestDispatchResetClearsSession(t *testing.T) {
	d, store := newTestDispatcher(t, &scriptedProvider{responses: []string{`{"body":"hi","tool_call":null}`}})
	result := d.Dispatch(context.Background(), testMessage("/reset"))
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if store.resets != 1 {
		t.Fatalf("expected exactly one reset, got %d", store.resets)
	}
}

func TestDispatchTerminalErrorOnMissingAPIKey(t *testing.T) {
	d, _ := newTestDispatcher(t, &scriptedProvider{})
	d.AgentConfig.APIKey = ""

	result := d.Dispatch(context.Background(), testMessage("hello"))
	if result.Error == "" {
		t.Fatal("expected a terminal error for a missing API key")
	}
}

func TestDispatchPlainResponseNoToolCall(t *testing.T) {
	d, _ := newTestDispatcher(t, &scriptedProvider{responses: []string{`{"body":"hello there","tool_call":null}`}})
	result := d.Dispatch(context.Background(), testMessage("hi"))
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != "hello there" {
		t.Fatalf("expected plain body response, got %q", result.Response)
	}
}

func TestDispatchExecutesToolThenReturnsFinalBody(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"body":"","tool_call":{"tool_name":"echo","tool_params":{"x":1}}}`,
		`{"body":"done","tool_call":null}`,
	}}
	d, _ := newTestDispatcher(t, provider)
	result := d.Dispatch(context.Background(), testMessage("run echo"))
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != "done" {
		t.Fatalf("expected final body after tool execution, got %q", result.Response)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly 2 model calls, got %d", provider.calls)
	}
}

func TestDispatchStripsMemoryMarkersFromResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"body":"noted [REMEMBER: likes coffee] thanks","tool_call":null}`,
	}}
	d, _ := newTestDispatcher(t, provider)
	result := d.Dispatch(context.Background(), testMessage("remember I like coffee"))
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != "noted thanks" {
		t.Fatalf("expected markers stripped, got %q", result.Response)
	}

	ident, err := d.Identities.GetOrCreateForChannel(context.Background(), "web", "user-1", "alice")
	if err != nil {
		t.Fatalf("unexpected error resolving identity: %v", err)
	}
	facts := d.Memory.TopLongTerm(context.Background(), ident.CanonicalID, 10)
	if len(facts) != 1 || facts[0].Content != "likes coffee" {
		t.Fatalf("expected a persisted long-term memory, got %+v", facts)
	}
}

func TestDispatchBoundsToolLoopIterations(t *testing.T) {
	loop := `{"body":"","tool_call":{"tool_name":"echo","tool_params":{}}}`
	responses := make([]string, maxToolIterations+2)
	for i := range responses {
		responses[i] = loop
	}
	provider := &scriptedProvider{responses: responses}
	d, _ := newTestDispatcher(t, provider)
	result := d.Dispatch(context.Background(), testMessage("loop forever"))
	if result.Error == "" {
		t.Fatal("expected an error once the iteration bound is exceeded")
	}
}

func TestDispatchUsesSkillInsteadOfRegistry(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"body":"","tool_call":{"tool_name":"use_skill","tool_params":{"skill_name":"weather","input":"Paris"}}}`,
		`{"body":"it is sunny","tool_call":null}`,
	}}
	d, _ := newTestDispatcher(t, provider)
	result := d.Dispatch(context.Background(), testMessage("weather in Paris?"))
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != "it is sunny" {
		t.Fatalf("expected final body, got %q", result.Response)
	}
}

func TestParseEnvelopeFallsBackThroughFencedAndBalancedForms(t *testing.T) {
	direct := parseEnvelope(`{"body":"hi","tool_call":null}`)
	if direct.Body != "hi" {
		t.Fatalf("direct parse failed: %+v", direct)
	}

	fenced := parseEnvelope("```json\n{\"body\":\"fenced\",\"tool_call\":null}\n```")
	if fenced.Body != "fenced" {
		t.Fatalf("fenced parse failed: %+v", fenced)
	}

	balanced := parseEnvelope(`some preamble text {"body":"balanced","tool_call":null} trailing`)
	if balanced.Body != "balanced" {
		t.Fatalf("balanced parse failed: %+v", balanced)
	}

	plain := parseEnvelope("just plain text")
	if plain.Body != "just plain text" || plain.ToolCall != nil {
		t.Fatalf("plain fallback failed: %+v", plain)
	}
}
