package verifyintent

import (
	"context"
	"errors"
	"testing"

	"github.com/starkbot-agent/core/internal/llm"
	"github.com/starkbot-agent/core/pkg/models"
)

func TestVerifyBlocksZeroAddress(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: zeroAddress}
	err := Verify(context.Background(), intent, Context{}, nil)
	if err == nil {
		t.Fatal("expected zero-address recipient to be blocked")
	}
}

func TestVerifyBlocksSelfSend(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xAAAA"}
	vctx := Context{Registers: map[string]models.RegisterEntry{
		"wallet_address": {Value: "0xaaaa"},
	}}
	err := Verify(context.Background(), intent, vctx, nil)
	if err == nil {
		t.Fatal("expected self-send to be blocked")
	}
}

func TestVerifyBlocksUnknownRecipient(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xUnknown"}
	err := Verify(context.Background(), intent, Context{}, nil)
	if err == nil {
		t.Fatal("expected a recipient absent from every register/context-bank entry to be blocked")
	}
}

func TestVerifyAllowsRecipientFoundInRegister(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xBBBB"}
	vctx := Context{Registers: map[string]models.RegisterEntry{
		"recipient": {Value: "0xbbbb", SourceTool: "resolve_ens"},
	}}
	if err := Verify(context.Background(), intent, vctx, nil); err != nil {
		t.Fatalf("expected recipient found in a register to pass, got %v", err)
	}
}

func TestVerifyAllowsRecipientFoundInContextBank(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xCCCC"}
	vctx := Context{ContextBank: []models.ContextBankItem{
		{Value: "0xcccc", ItemType: models.ContextItemEthAddress, Label: "friend"},
	}}
	if err := Verify(context.Background(), intent, vctx, nil); err != nil {
		t.Fatalf("expected recipient found in context bank to pass, got %v", err)
	}
}

func TestCheckSwapSellAmountFailsOpenWhenRegistersMissing(t *testing.T) {
	intent := Intent{TxType: "contract_call", Preset: "swap_execute"}
	if err := checkSwapSellAmount(intent, Context{}); err != nil {
		t.Fatalf("expected missing registers to fail open, got %v", err)
	}
}

func TestCheckSwapSellAmountMatches(t *testing.T) {
	intent := Intent{TxType: "contract_call", Preset: "swap_execute"}
	vctx := Context{
		Registers: map[string]models.RegisterEntry{
			"sell_amount":         {Value: "1000000"},
			"sell_token_decimals": {Value: "6"},
			"sell_token_symbol":   {Value: "usdc"},
		},
		OriginalUserMessage: "swap 1 usdc for eth",
	}
	if err := checkSwapSellAmount(intent, vctx); err != nil {
		t.Fatalf("expected matching amount to pass, got %v", err)
	}
}

func TestCheckSwapSellAmountMismatchBlocks(t *testing.T) {
	intent := Intent{TxType: "contract_call", Preset: "swap_execute"}
	vctx := Context{
		Registers: map[string]models.RegisterEntry{
			"sell_amount":         {Value: "5000000"},
			"sell_token_decimals": {Value: "6"},
			"sell_token_symbol":   {Value: "usdc"},
		},
		OriginalUserMessage: "swap 1 usdc for eth",
	}
	if err := checkSwapSellAmount(intent, vctx); err == nil {
		t.Fatal("expected a clear amount mismatch to block")
	}
}

func TestExtractAmountForTokenHandlesShorthandSuffixesAndWordOrder(t *testing.T) {
	cases := []struct {
		message string
		symbol  string
		want    float64
	}{
		{"swap 1.5k usdc for eth", "usdc", 1500},
		{"swap 2m usdc for eth", "usdc", 2_000_000},
		{"send $1,000 usdc please", "usdc", 1000},
		{"swap usdc 250 for eth", "usdc", 250},
		{"swap 1 million usdc for eth", "usdc", 1_000_000},
	}
	for _, tc := range cases {
		got := extractAmountForToken(tc.message, tc.symbol)
		found := false
		for _, amount := range got {
			if amount == tc.want {
				found = true
			}
		}
		if !found {
			t.Fatalf("extractAmountForToken(%q, %q) = %v, want to contain %v", tc.message, tc.symbol, got, tc.want)
		}
	}
}

func TestAmountsMatchToleratesSmallDrift(t *testing.T) {
	if !amountsMatch(1000, 1000.5) {
		t.Fatal("expected amounts within 0.1%% tolerance to match")
	}
	if amountsMatch(1000, 1100) {
		t.Fatal("expected a 10%% drift to not match")
	}
}

type stubAIVerifier struct {
	resp *llm.Response
	err  error
}

func (s stubAIVerifier) GenerateText(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return s.resp, s.err
}

func TestRunAICheckApproves(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xbbbb"}
	vctx := Context{
		Registers:           map[string]models.RegisterEntry{"recipient": {Value: "0xbbbb"}},
		OriginalUserMessage: "send 1 eth to 0xbbbb",
	}
	ai := stubAIVerifier{resp: &llm.Response{Text: "APPROVED"}}
	if err := Verify(context.Background(), intent, vctx, ai); err != nil {
		t.Fatalf("expected APPROVED to pass, got %v", err)
	}
}

func TestRunAICheckRejects(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xbbbb"}
	vctx := Context{
		Registers:           map[string]models.RegisterEntry{"recipient": {Value: "0xbbbb"}},
		OriginalUserMessage: "send 1 eth to someone else",
	}
	ai := stubAIVerifier{resp: &llm.Response{Text: "REJECTED: amount mismatch"}}
	err := Verify(context.Background(), intent, vctx, ai)
	if err == nil {
		t.Fatal("expected REJECTED response to block")
	}
}

func TestRunAICheckFailsOpenOnNetworkError(t *testing.T) {
	intent := Intent{TxType: "eth_transfer", To: "0xbbbb"}
	vctx := Context{
		Registers:           map[string]models.RegisterEntry{"recipient": {Value: "0xbbbb"}},
		OriginalUserMessage: "send 1 eth to 0xbbbb",
	}
	ai := stubAIVerifier{err: errors.New("connection reset")}
	if err := Verify(context.Background(), intent, vctx, ai); err != nil {
		t.Fatalf("expected a flaky LLM call to fail open, got %v", err)
	}
}

func TestParseVerificationResponseFailsOpenOnGarbage(t *testing.T) {
	if err := parseVerificationResponse("I'm not sure what to make of this"); err != nil {
		t.Fatalf("expected unparseable response to fail open, got %v", err)
	}
}

func TestParseVerificationResponseNeedInfo(t *testing.T) {
	err := parseVerificationResponse("NEED_INFO: which token should be sent")
	if err == nil {
		t.Fatal("expected NEED_INFO to block")
	}
}
