package wallet

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLocalProviderAddressIsDeterministic(t *testing.T) {
	p, err := NewLocalProvider(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	addr, err := p.Address(context.Background())
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if addr.Hex() == "" {
		t.Fatal("expected non-empty address")
	}
}

func TestLocalProviderSignMessageRoundTrips(t *testing.T) {
	p, err := NewLocalProvider(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	sig, err := p.SignMessage(context.Background(), []byte("hello starkbot"))
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}
	if sig.V != 0 && sig.V != 1 {
		t.Fatalf("expected y_parity v of 0 or 1, got %d", sig.V)
	}
}

func TestLocalProviderSignTransaction(t *testing.T) {
	p, err := NewLocalProvider(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	to := p.address
	tx := &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     0,
		GasTipCap: big.NewInt(1e9),
		GasFeeCap: big.NewInt(2e9),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	}
	sig, err := p.SignTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("SignTransaction() error = %v", err)
	}
	if sig.V != 0 && sig.V != 1 {
		t.Fatalf("expected y_parity v of 0 or 1, got %d", sig.V)
	}
}

func TestLocalProviderEncryptionKeyIsCached(t *testing.T) {
	p, err := NewLocalProvider(testKeyHex)
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	first, err := p.EncryptionKey(context.Background())
	if err != nil {
		t.Fatalf("EncryptionKey() error = %v", err)
	}
	second, err := p.EncryptionKey(context.Background())
	if err != nil {
		t.Fatalf("EncryptionKey() error = %v", err)
	}
	if first != second {
		t.Fatalf("expected cached encryption key to be stable, got %q then %q", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 32-byte hex-encoded key, got length %d", len(first))
	}
}

func TestParseSignatureHexRejectsWrongLength(t *testing.T) {
	if _, err := parseSignatureHex("0xdead"); err == nil {
		t.Fatal("expected error for short signature")
	}
}
