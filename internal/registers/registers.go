// Package registers implements the per-conversation RegisterStore and
// ContextBank described in §3: a key/value bag of tool-produced
// intermediate values, and an append-only list of user-supplied facts that
// the intent verifier (C4) scans for anti-hallucination checks.
package registers

import (
	"context"
	"sync"

	"github.com/starkbot-agent/core/pkg/models"
)

// Store holds one RegisterStore and one ContextBank per session, mirroring
// the mutex-guarded-map-of-pointers idiom the teacher's storage layer uses
// for every per-entity collection.
type Store struct {
	mu          sync.RWMutex
	registers   map[string]map[string]models.RegisterEntry
	contextBank map[string][]models.ContextBankItem
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		registers:   make(map[string]map[string]models.RegisterEntry),
		contextBank: make(map[string][]models.ContextBankItem),
	}
}

// SetRegister records value under key for sessionID, tagged with the tool
// that produced it.
func (s *Store) SetRegister(ctx context.Context, sessionID, key string, value any, sourceTool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bag, ok := s.registers[sessionID]
	if !ok {
		bag = make(map[string]models.RegisterEntry)
		s.registers[sessionID] = bag
	}
	bag[key] = models.RegisterEntry{Value: value, SourceTool: sourceTool}
}

// Registers returns a copy of every register held for sessionID.
func (s *Store) Registers(ctx context.Context, sessionID string) map[string]models.RegisterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bag := s.registers[sessionID]
	out := make(map[string]models.RegisterEntry, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}

// ClearRegisters drops every register held for sessionID, called by the
// dispatcher at the start of a fresh `/new`/`/reset` conversation.
func (s *Store) ClearRegisters(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registers, sessionID)
}

// AppendContextItem appends item to sessionID's context bank. The bank is
// append-only: nothing ever removes a prior entry.
func (s *Store) AppendContextItem(ctx context.Context, sessionID string, item models.ContextBankItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextBank[sessionID] = append(s.contextBank[sessionID], item)
}

// ContextBank returns a copy of sessionID's append-only fact list.
func (s *Store) ContextBank(ctx context.Context, sessionID string) []models.ContextBankItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.contextBank[sessionID]
	out := make([]models.ContextBankItem, len(items))
	copy(out, items)
	return out
}
