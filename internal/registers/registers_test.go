package registers

import (
	"context"
	"testing"

	"github.com/starkbot-agent/core/pkg/models"
)

func TestSetRegisterAndRegistersRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetRegister(ctx, "session-1", "sell_amount", "1000000", "resolve_token")

	got := s.Registers(ctx, "session-1")
	entry, ok := got["sell_amount"]
	if !ok {
		t.Fatal("expected sell_amount to be present")
	}
	if entry.Value != "1000000" || entry.SourceTool != "resolve_token" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestRegistersAreIsolatedPerSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetRegister(ctx, "session-a", "k", "a", "tool")
	s.SetRegister(ctx, "session-b", "k", "b", "tool")

	if s.Registers(ctx, "session-a")["k"].Value != "a" {
		t.Fatal("expected session-a's register to be unaffected by session-b")
	}
	if s.Registers(ctx, "session-b")["k"].Value != "b" {
		t.Fatal("expected session-b's register to be unaffected by session-a")
	}
}

func TestClearRegistersDropsOnlyThatSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetRegister(ctx, "session-a", "k", "a", "tool")
	s.SetRegister(ctx, "session-b", "k", "b", "tool")

	s.ClearRegisters(ctx, "session-a")

	if len(s.Registers(ctx, "session-a")) != 0 {
		t.Fatal("expected session-a's registers to be cleared")
	}
	if len(s.Registers(ctx, "session-b")) != 1 {
		t.Fatal("expected session-b's registers to survive")
	}
}

func TestContextBankIsAppendOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AppendContextItem(ctx, "session-1", models.ContextBankItem{Value: "0xabc", ItemType: models.ContextItemEthAddress, Label: "friend"})
	s.AppendContextItem(ctx, "session-1", models.ContextBankItem{Value: "this is fine", ItemType: models.ContextItemText})

	items := s.ContextBank(ctx, "session-1")
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Value != "0xabc" {
		t.Fatalf("expected first item to be preserved in insertion order, got %+v", items[0])
	}
}

func TestContextBankMutationDoesNotAliasStore(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AppendContextItem(ctx, "session-1", models.ContextBankItem{Value: "0xabc", ItemType: models.ContextItemEthAddress})

	items := s.ContextBank(ctx, "session-1")
	items[0].Value = "mutated"

	fresh := s.ContextBank(ctx, "session-1")
	if fresh[0].Value != "0xabc" {
		t.Fatal("expected ContextBank to return a defensive copy")
	}
}
