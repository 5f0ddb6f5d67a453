package memory

import (
	"context"
	"testing"
	"time"
)

func TestDailyLogsTodayExcludesOtherDays(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindDailyLog, Content: "today's note", CreatedAt: time.Now()})
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindDailyLog, Content: "yesterday's note", CreatedAt: time.Now().Add(-36 * time.Hour)})

	logs := s.DailyLogsToday(ctx, "alice")
	if len(logs) != 1 || logs[0].Content != "today's note" {
		t.Fatalf("expected only today's log, got %+v", logs)
	}
}

func TestTopLongTermOrdersByImportanceThenRecency(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindLongTerm, Content: "low", Importance: 5, CreatedAt: time.Now().Add(-time.Hour)})
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindLongTerm, Content: "high-old", Importance: 9, CreatedAt: time.Now().Add(-time.Hour)})
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindLongTerm, Content: "high-new", Importance: 9, CreatedAt: time.Now()})

	top := s.TopLongTerm(ctx, "alice", 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].Content != "high-new" || top[1].Content != "high-old" {
		t.Fatalf("expected importance-then-recency order, got %+v", top)
	}
}

func TestTopLongTermIgnoresDailyLogs(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindDailyLog, Content: "scratch", Importance: 9})
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindLongTerm, Content: "fact", Importance: 7})

	top := s.TopLongTerm(ctx, "alice", 5)
	if len(top) != 1 || top[0].Content != "fact" {
		t.Fatalf("expected only the long-term entry, got %+v", top)
	}
}

func TestEntriesAreIsolatedPerIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Append(ctx, Entry{IdentityID: "alice", Kind: KindDailyLog, Content: "alice's note"})
	s.Append(ctx, Entry{IdentityID: "bob", Kind: KindDailyLog, Content: "bob's note"})

	if logs := s.DailyLogsToday(ctx, "alice"); len(logs) != 1 || logs[0].Content != "alice's note" {
		t.Fatalf("expected only alice's note, got %+v", logs)
	}
}
