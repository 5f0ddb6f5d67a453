// Package memory implements the dispatcher's two memory kinds (§4.8 step 11):
// daily-log notes scoped to the current day and long-term facts ranked by
// importance, both keyed by identity. Grounded on
// original_source/stark-backend/src/channels/dispatcher.rs's
// process_memory_markers/get_todays_daily_logs/create_memory trio.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Kind distinguishes a same-day scratch note from a durable fact.
type Kind string

const (
	KindDailyLog Kind = "daily_log"
	KindLongTerm Kind = "long_term"
)

// Entry is one memory marker extracted from an agent response.
type Entry struct {
	IdentityID  string
	Kind        Kind
	Content     string
	Importance  int
	SessionID   string
	ChannelType string
	MessageID   string
	CreatedAt   time.Time
}

// Store holds every memory entry in process, partitioned by identity.
type Store struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// New builds an empty memory store.
func New() *Store {
	return &Store{entries: make(map[string][]Entry)}
}

// Append records one memory entry.
func (s *Store) Append(ctx context.Context, entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.IdentityID] = append(s.entries[entry.IdentityID], entry)
}

// DailyLogsToday returns every KindDailyLog entry created today for identityID.
func (s *Store) DailyLogsToday(ctx context.Context, identityID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	year, month, day := now.Date()

	var out []Entry
	for _, e := range s.entries[identityID] {
		if e.Kind != KindDailyLog {
			continue
		}
		ey, em, ed := e.CreatedAt.Date()
		if ey == year && em == month && ed == day {
			out = append(out, e)
		}
	}
	return out
}

// TopLongTerm returns up to limit KindLongTerm entries for identityID, most
// important first, ties broken by recency.
func (s *Store) TopLongTerm(ctx context.Context, identityID string, limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []Entry
	for _, e := range s.entries[identityID] {
		if e.Kind == KindLongTerm {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance > candidates[j].Importance
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
