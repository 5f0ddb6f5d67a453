package discord

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/starkbot-agent/core/pkg/models"
)

type mockSession struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	handler interface{}

	openCalled  bool
	closeCalled bool
}

func (m *mockSession) Open() error {
	m.openCalled = true
	return nil
}

func (m *mockSession) Close() error {
	m.closeCalled = true
	return nil
}

func (m *mockSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, content)
	return &discordgo.Message{ID: "sent"}, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.handler = handler
	return func() {}
}

func (m *mockSession) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

type stubDispatcher struct {
	result models.DispatchResult
	got    models.NormalizedMessage
}

func (s *stubDispatcher) Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult {
	s.got = msg
	return s.result
}

func TestTypeReturnsDiscord(t *testing.T) {
	a := New(Config{Token: "t"}, &stubDispatcher{})
	if a.Type() != models.ChannelDiscord {
		t.Fatalf("expected ChannelDiscord, got %v", a.Type())
	}
}

func TestStartRegistersHandlerAndOpensSession(t *testing.T) {
	mock := &mockSession{}
	a := New(Config{Token: "t"}, &stubDispatcher{})
	a.SetSession(mock)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting adapter: %v", err)
	}
	if !mock.openCalled {
		t.Fatal("expected session.Open to be called")
	}
	if mock.handler == nil {
		t.Fatal("expected a message handler to be registered")
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error stopping adapter: %v", err)
	}
	if !mock.closeCalled {
		t.Fatal("expected session.Close to be called")
	}
}

func TestHandleMessageCreateDispatchesAndReplies(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("hello back")}
	mock := &mockSession{}
	a := New(Config{Token: "t", ChannelID: 3}, disp)
	a.SetSession(mock)

	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "hi there",
		Author:    &discordgo.User{ID: "u1", Username: "ada"},
	}}
	a.handleMessageCreate(nil, evt)

	if disp.got.ChatID != "c1" || disp.got.UserID != "u1" || disp.got.Text != "hi there" {
		t.Fatalf("unexpected normalized message: %+v", disp.got)
	}
	if disp.got.ChannelID != 3 {
		t.Fatalf("expected channel id 3, got %d", disp.got.ChannelID)
	}
	calls := mock.calls()
	if len(calls) != 1 || calls[0] != "hello back" {
		t.Fatalf("expected one reply with dispatcher response, got %+v", calls)
	}
}

func TestHandleMessageCreateIgnoresBotAuthors(t *testing.T) {
	disp := &stubDispatcher{}
	mock := &mockSession{}
	a := New(Config{Token: "t"}, disp)
	a.SetSession(mock)

	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "hi",
		Author:    &discordgo.User{ID: "u1", Bot: true},
	}}
	a.handleMessageCreate(nil, evt)

	if len(mock.calls()) != 0 {
		t.Fatal("expected no reply for a bot-authored message")
	}
}

func TestHandleMessageCreateForcesSafeModeForNonAdmins(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("ok")}
	mock := &mockSession{}
	a := New(Config{Token: "t", AdminUserID: "admin"}, disp)
	a.SetSession(mock)

	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "do a risky thing",
		Author:    &discordgo.User{ID: "u1"},
	}}
	a.handleMessageCreate(nil, evt)
	if !disp.got.ForceSafeMode {
		t.Fatal("expected safe mode to be forced for a non-admin user")
	}

	evt.Author.ID = "admin"
	a.handleMessageCreate(nil, evt)
	if disp.got.ForceSafeMode {
		t.Fatal("expected safe mode not to be forced for the admin user")
	}
}

