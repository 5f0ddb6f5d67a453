package telegram

import (
	"context"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/starkbot-agent/core/pkg/models"
)

type mockBotClient struct {
	mu           sync.Mutex
	sentMessages []*bot.SendMessageParams
	sendErr      error
}

func (m *mockBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, params)
	return &tgmodels.Message{ID: len(m.sentMessages)}, nil
}

func (m *mockBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) {
}

func (m *mockBotClient) Start(ctx context.Context) {
	<-ctx.Done()
}

func (m *mockBotClient) calls() []*bot.SendMessageParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*bot.SendMessageParams, len(m.sentMessages))
	copy(out, m.sentMessages)
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

func TestTypeReturnsTelegram(t *testing.T) {
	a := New(Config{Token: "t"}, &stubDispatcher{})
	if a.Type() != models.ChannelTelegram {
		t.Fatalf("expected ChannelTelegram, got %v", a.Type())
	}
}

func TestHandleMessageDispatchesAndReplies(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("hello back")}
	mock := &mockBotClient{}
	a := New(Config{Token: "t", ChannelID: 7}, disp)
	a.SetBotClient(mock)

	update := &tgmodels.Update{
		Message: &tgmodels.Message{
			ID:   42,
			Text: "hi there",
			Chat: tgmodels.Chat{ID: 100},
			From: &tgmodels.User{ID: 55, FirstName: "Ada"},
		},
	}
	a.handleMessage(context.Background(), nil, update)

	if disp.got.ChatID != "100" || disp.got.UserID != "55" || disp.got.Text != "hi there" {
		t.Fatalf("unexpected normalized message: %+v", disp.got)
	}
	if disp.got.ChannelID != 7 {
		t.Fatalf("expected channel id 7, got %d", disp.got.ChannelID)
	}
	calls := mock.calls()
	if len(calls) != 1 || calls[0].Text != "hello back" {
		t.Fatalf("expected one reply with dispatcher response, got %+v", calls)
	}
}

func TestHandleMessageSkipsReplyOnEmptyResponse(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("")}
	mock := &mockBotClient{}
	a := New(Config{Token: "t"}, disp)
	a.SetBotClient(mock)

	update := &tgmodels.Update{
		Message: &tgmodels.Message{
			ID:   1,
			Text: "quiet",
			Chat: tgmodels.Chat{ID: 1},
			From: &tgmodels.User{ID: 2},
		},
	}
	a.handleMessage(context.Background(), nil, update)

	if len(mock.calls()) != 0 {
		t.Fatalf("expected no reply for empty response")
	}
}

func TestHandleMessageForcesSafeModeForNonAdmins(t *testing.T) {
	disp := &stubDispatcher{result: models.Success("ok")}
	mock := &mockBotClient{}
	a := New(Config{Token: "t", AdminUserID: "9"}, disp)
	a.SetBotClient(mock)

	update := &tgmodels.Update{
		Message: &tgmodels.Message{
			ID:   1,
			Text: "do a risky thing",
			Chat: tgmodels.Chat{ID: 1},
			From: &tgmodels.User{ID: 2},
		},
	}
	a.handleMessage(context.Background(), nil, update)

	if !disp.got.ForceSafeMode {
		t.Fatal("expected safe mode to be forced for a non-admin user")
	}

	update.Message.From.ID = 9
	a.handleMessage(context.Background(), nil, update)
	if disp.got.ForceSafeMode {
		t.Fatal("expected safe mode not to be forced for the admin user")
	}
}

func TestHandleMessageIgnoresUpdatesWithoutFrom(t *testing.T) {
	disp := &stubDispatcher{}
	mock := &mockBotClient{}
	a := New(Config{Token: "t"}, disp)
	a.SetBotClient(mock)

	a.handleMessage(context.Background(), nil, &tgmodels.Update{Message: &tgmodels.Message{ID: 1}})
	if len(mock.calls()) != 0 {
		t.Fatal("expected no dispatch or reply when From is nil")
	}
}

func TestStartAndStopLifecycle(t *testing.T) {
	a := New(Config{Token: "t"}, &stubDispatcher{})
	a.SetBotClient(&mockBotClient{})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting adapter: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error stopping adapter: %v", err)
	}
}
