package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/starkbot-agent/core/internal/wallet"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	provider, err := wallet.NewLocalProvider("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("NewLocalProvider() error = %v", err)
	}
	return NewSigner(provider, "0x0000000000000000000000000000000000000001")
}

func TestPayHeaderEnforcesHardCeiling(t *testing.T) {
	signer := newTestSigner(t)

	atCeiling := ChallengeBody{Accepts: []PaymentRequirements{{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: MaxAmountCeiling.String(),
		PayTo:             "0x0000000000000000000000000000000000000002",
		Resource:          "/api/thing",
		MaxTimeoutSeconds: 300,
		Asset:             "0x0000000000000000000000000000000000000003",
	}}}
	if _, err := signer.PayHeader(context.Background(), atCeiling); err != nil {
		t.Fatalf("expected payment at the ceiling to succeed, got %v", err)
	}

	overCeiling := atCeiling
	overCeiling.Accepts = []PaymentRequirements{atCeiling.Accepts[0]}
	overCeiling.Accepts[0].MaxAmountRequired = new(big.Int).Add(MaxAmountCeiling, big.NewInt(1)).String()
	if _, err := signer.PayHeader(context.Background(), overCeiling); err == nil {
		t.Fatal("expected exceeding the hard ceiling to be a fatal error")
	}
}

func TestPayHeaderProducesValidBase64Envelope(t *testing.T) {
	signer := newTestSigner(t)
	body := ChallengeBody{Accepts: []PaymentRequirements{{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "1000",
		PayTo:             "0x0000000000000000000000000000000000000002",
		Resource:          "/api/thing",
		MaxTimeoutSeconds: 300,
		Asset:             "0x0000000000000000000000000000000000000003",
	}}}

	header, err := signer.PayHeader(context.Background(), body)
	if err != nil {
		t.Fatalf("PayHeader() error = %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		t.Fatalf("expected valid base64, got error %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("expected valid JSON envelope, got error %v", err)
	}
	if decoded["scheme"] != "exact" {
		t.Fatalf("expected scheme to round-trip, got %v", decoded["scheme"])
	}
}

func TestPayHeaderRejectsEmptyAccepts(t *testing.T) {
	signer := newTestSigner(t)
	if _, err := signer.PayHeader(context.Background(), ChallengeBody{}); err == nil {
		t.Fatal("expected an error for an empty accepts[] list")
	}
}
