package main

import (
	"context"
	"testing"
	"time"

	"github.com/starkbot-agent/core/internal/safemode"
	"github.com/starkbot-agent/core/pkg/models"
)

type stubDispatcher struct {
	calls int
}

func (s *stubDispatcher) Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult {
	s.calls++
	return models.Success("ok")
}

func TestRateLimitedDispatcherPassesThroughUnderLimit(t *testing.T) {
	inner := &stubDispatcher{}
	gated := &rateLimitedDispatcher{
		inner:       inner,
		queryWindow: safemode.NewQueryWindow(time.Minute, 5),
		maxCalls:    5,
	}

	result := gated.Dispatch(context.Background(), models.NormalizedMessage{ChannelType: "web", UserID: "u1"})
	if result.Error != "" {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner dispatcher to be called once, got %d", inner.calls)
	}
}

func TestRateLimitedDispatcherRejectsOverLimit(t *testing.T) {
	inner := &stubDispatcher{}
	gated := &rateLimitedDispatcher{
		inner:       inner,
		queryWindow: safemode.NewQueryWindow(time.Minute, 1),
		maxCalls:    1,
	}

	msg := models.NormalizedMessage{ChannelType: "web", UserID: "u1"}
	if result := gated.Dispatch(context.Background(), msg); result.Error != "" {
		t.Fatalf("expected first call to succeed, got error %q", result.Error)
	}

	result := gated.Dispatch(context.Background(), msg)
	if result.Error == "" {
		t.Fatal("expected the second call within the window to be rejected")
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner dispatcher to be called only once, got %d", inner.calls)
	}
}
