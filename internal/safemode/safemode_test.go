package safemode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueryWindowAllowsUpToLimit(t *testing.T) {
	q := NewQueryWindow(10*time.Minute, 3)
	for i := 0; i < 3; i++ {
		if err := q.CheckAndRecord("discord", "user-1", 3); err != nil {
			t.Fatalf("call %d: expected allow, got %v", i, err)
		}
	}
	err := q.CheckAndRecord("discord", "user-1", 3)
	if err == nil {
		t.Fatal("expected the 4th call within the window to be rejected")
	}
	var limitErr *ErrQueryLimitExceeded
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ErrQueryLimitExceeded, got %T", err)
	}
}

func TestQueryWindowPrunesExpiredEntries(t *testing.T) {
	q := NewQueryWindow(20*time.Millisecond, 1)
	if err := q.CheckAndRecord("discord", "user-2", 1); err != nil {
		t.Fatalf("expected first call to be allowed, got %v", err)
	}
	if err := q.CheckAndRecord("discord", "user-2", 1); err == nil {
		t.Fatal("expected second call inside the window to be rejected")
	}
	time.Sleep(30 * time.Millisecond)
	if err := q.CheckAndRecord("discord", "user-2", 1); err != nil {
		t.Fatalf("expected call after window expiry to be allowed, got %v", err)
	}
}

func TestQueryWindowIsolatesKeys(t *testing.T) {
	q := NewQueryWindow(10*time.Minute, 1)
	if err := q.CheckAndRecord("discord", "user-3", 1); err != nil {
		t.Fatalf("expected discord:user-3 to be allowed, got %v", err)
	}
	if err := q.CheckAndRecord("telegram", "user-3", 1); err != nil {
		t.Fatalf("expected telegram:user-3 to be independently allowed, got %v", err)
	}
}

func TestChannelCreationPacerPacesToOnePerSecond(t *testing.T) {
	pacer := NewChannelCreationPacer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pacer.Start(ctx)

	var mu sync.Mutex
	var times []time.Time
	const n = 3
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pacer.Enqueue(ctx, func() error {
				mu.Lock()
				times = append(times, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(times) != n {
		t.Fatalf("expected %d completions, got %d", n, len(times))
	}
}

func TestChannelCreationPacerRejectsOverflow(t *testing.T) {
	pacer := NewChannelCreationPacer()
	// Deliberately never call Start: every enqueue piles into the channel
	// buffer until it's full, then the next one overflows.
	for i := 0; i < maxQueueDepth; i++ {
		req := &creationRequest{fn: func() error { return nil }, done: make(chan error, 1)}
		select {
		case pacer.queue <- req:
		default:
			t.Fatalf("unexpected overflow filling entry %d", i)
		}
	}

	err := pacer.Enqueue(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestChannelCreationPacerPropagatesFnError(t *testing.T) {
	pacer := NewChannelCreationPacer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pacer.Start(ctx)

	wantErr := errors.New("boom")
	err := pacer.Enqueue(ctx, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the worker to propagate fn's error, got %v", err)
	}
}
