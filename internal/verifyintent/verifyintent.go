// Package verifyintent implements the intent verifier (C4): deterministic
// pre-broadcast safety checks plus an optional fail-open LLM sanity check,
// grounded on original_source/stark-backend's verify_intent.rs.
package verifyintent

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/starkbot-agent/core/internal/llm"
	"github.com/starkbot-agent/core/pkg/models"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Intent is the transaction the user's message is claimed to have produced.
type Intent struct {
	TxType       string // "eth_transfer" | "contract_call"
	To           string
	ValueDisplay string
	Preset       string // e.g. "swap_execute"
}

// Context bundles the collaborators the deterministic checks read from: the
// RegisterStore, the ContextBank, and the original user message (if any).
type Context struct {
	Registers           map[string]models.RegisterEntry
	ContextBank         []models.ContextBankItem
	OriginalUserMessage string
}

// AIVerifier is the optional, fail-open LLM sanity check. A nil AIVerifier
// (or any error/unparseable response from it) always passes.
type AIVerifier interface {
	GenerateText(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Verify runs every deterministic check in order, then — if ctx has an
// OriginalUserMessage and ai is non-nil — an LLM sanity pass. Deterministic
// failures are never overridden by the AI step.
func Verify(ctx context.Context, intent Intent, vctx Context, ai AIVerifier) error {
	if err := runDeterministicChecks(intent, vctx); err != nil {
		return err
	}
	if vctx.OriginalUserMessage == "" || ai == nil {
		return nil
	}
	return runAICheck(ctx, intent, vctx, ai)
}

func runDeterministicChecks(intent Intent, vctx Context) error {
	toLower := strings.ToLower(intent.To)

	// 1. Zero-address recipient.
	if toLower == zeroAddress {
		return fmt.Errorf("transaction blocked: recipient is the zero address (%s); sending to it burns funds permanently", zeroAddress)
	}

	// 2. Self-send on a plain ETH transfer.
	if intent.TxType == "eth_transfer" {
		if entry, ok := vctx.Registers["wallet_address"]; ok {
			if addr, ok := entry.Value.(string); ok && strings.ToLower(addr) == toLower {
				return fmt.Errorf("transaction blocked: you are sending ETH to your own wallet, which wastes gas with no effect")
			}
		}
	}

	// 3. Anti-hallucination: recipient must appear in a register or the
	// context bank for plain ETH transfers.
	if intent.TxType == "eth_transfer" {
		if !addressInRegisters(toLower, vctx.Registers) && !addressInContextBank(toLower, vctx.ContextBank) {
			return fmt.Errorf("transaction blocked: recipient address %s was not found in any register or the context bank; this may indicate a hallucinated address", intent.To)
		}
	}

	// 4. Swap sell-amount check.
	return checkSwapSellAmount(intent, vctx)
}

func addressInRegisters(addrLower string, registers map[string]models.RegisterEntry) bool {
	for _, entry := range registers {
		if s, ok := entry.Value.(string); ok && strings.ToLower(s) == addrLower {
			return true
		}
	}
	return false
}

func addressInContextBank(addrLower string, items []models.ContextBankItem) bool {
	for _, item := range items {
		if item.ItemType == models.ContextItemEthAddress && strings.ToLower(item.Value) == addrLower {
			return true
		}
	}
	return false
}

// checkSwapSellAmount only applies to the swap_execute preset. It fails
// open (returns nil) whenever a required register is missing or no amount
// can be extracted from the user's message; it fails closed (blocks) only
// on a clear mismatch.
func checkSwapSellAmount(intent Intent, vctx Context) error {
	if intent.Preset != "swap_execute" {
		return nil
	}

	rawAmount, ok := stringRegister(vctx.Registers, "sell_amount")
	if !ok {
		return nil
	}
	decimalsStr, ok := stringRegister(vctx.Registers, "sell_token_decimals")
	if !ok {
		return nil
	}
	symbol, ok := stringRegister(vctx.Registers, "sell_token_symbol")
	if !ok {
		return nil
	}
	decimals, err := strconv.Atoi(decimalsStr)
	if err != nil {
		return nil
	}
	rawValue, err := strconv.ParseFloat(rawAmount, 64)
	if err != nil {
		return nil
	}
	humanValue := rawValue / math.Pow(10, float64(decimals))

	extracted := extractAmountForToken(vctx.OriginalUserMessage, symbol)
	if len(extracted) == 0 {
		return nil
	}

	for _, amount := range extracted {
		if amountsMatch(amount, humanValue) {
			return nil
		}
	}
	return fmt.Errorf("transaction blocked: stated sell amount does not match any amount mentioned in your message (expected near %.6g %s)", humanValue, symbol)
}

func stringRegister(registers map[string]models.RegisterEntry, key string) (string, bool) {
	entry, ok := registers[key]
	if !ok {
		return "", false
	}
	s, ok := entry.Value.(string)
	return s, ok
}

// amountsMatch reports whether a and b agree within 0.1% relative tolerance.
func amountsMatch(a, b float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	if a == 0 || b == 0 {
		return false
	}
	ratio := a / b
	if ratio < 1 {
		ratio = b / a
	}
	return ratio <= 1.001
}

// extractAmountForToken scans message for numeric amounts adjacent to
// symbol, in either "NUM SYMBOL" or "SYMBOL NUM" order, including a
// "NUM WORD_MULTIPLIER SYMBOL" form ("1 million usdc").
func extractAmountForToken(message, symbol string) []float64 {
	symbolLower := strings.ToLower(symbol)
	normalized := strings.ReplaceAll(strings.ToLower(message), ",", "")
	tokens := strings.Fields(normalized)

	var amounts []float64
	for i := range tokens {
		if amount, ok := parseAmountWithSuffix(tokens[i]); ok {
			if i+1 < len(tokens) && tokens[i+1] == symbolLower {
				amounts = append(amounts, amount)
				continue
			}
			if i+2 < len(tokens) && tokens[i+2] == symbolLower {
				if mult, ok := wordMultiplier(tokens[i+1]); ok {
					amounts = append(amounts, amount*mult)
					continue
				}
			}
		}
		if tokens[i] == symbolLower && i+1 < len(tokens) {
			if amount, ok := parseAmountWithSuffix(tokens[i+1]); ok {
				amounts = append(amounts, amount)
			}
		}
	}
	return amounts
}

// suffixMultipliers is ordered longest-suffix-first so "million" isn't
// shadowed by a shorter match.
var suffixMultipliers = []struct {
	suffix     string
	multiplier float64
}{
	{"billion", 1_000_000_000},
	{"million", 1_000_000},
	{"thousand", 1_000},
	{"bil", 1_000_000_000},
	{"mil", 1_000_000},
	{"b", 1_000_000_000},
	{"m", 1_000_000},
	{"k", 1_000},
}

func parseAmountWithSuffix(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
	if s == "" {
		return 0, false
	}
	for _, sm := range suffixMultipliers {
		if strings.HasSuffix(s, sm.suffix) {
			numStr := s[:len(s)-len(sm.suffix)]
			if n, err := strconv.ParseFloat(numStr, 64); err == nil {
				return n * sm.multiplier, true
			}
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}

func wordMultiplier(word string) (float64, bool) {
	switch word {
	case "k", "thousand":
		return 1_000, true
	case "m", "mil", "million":
		return 1_000_000, true
	case "b", "bil", "billion":
		return 1_000_000_000, true
	default:
		return 0, false
	}
}

const verificationSystemPrompt = `You are a transaction safety verifier. Your job is to compare a user's original request with the transaction that was constructed, and determine whether they match.

Respond with EXACTLY one of these formats (no extra text):
  APPROVED
  REJECTED: <one-line reason>
  NEED_INFO: <what is missing>

Rules:
- APPROVED means the transaction clearly matches what the user asked for.
- REJECTED means there is a mismatch in recipient, amount, network, or operation type.
- NEED_INFO means the user's request is too vague to confirm the transaction.
- When in doubt, use REJECTED. It is always safer to block than to allow.
- Do NOT add any explanation beyond the single-line reason.`

func runAICheck(ctx context.Context, intent Intent, vctx Context, ai AIVerifier) error {
	prompt := fmt.Sprintf("## User's original message\n%s\n\n## Constructed transaction\n%s to %s (%s)\n",
		vctx.OriginalUserMessage, intent.TxType, intent.To, intent.ValueDisplay)

	resp, err := ai.GenerateText(ctx, llm.Request{
		System:   verificationSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		// Fail-open: a flaky LLM must not block a legitimate transaction
		// the deterministic checks already cleared.
		return nil
	}
	return parseVerificationResponse(resp.Text)
}

func parseVerificationResponse(response string) error {
	var firstLine string
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			firstLine = trimmed
			break
		}
	}

	switch {
	case strings.HasPrefix(firstLine, "APPROVED"):
		return nil
	case strings.HasPrefix(firstLine, "REJECTED:"):
		reason := strings.TrimSpace(strings.TrimPrefix(firstLine, "REJECTED:"))
		return fmt.Errorf("transaction rejected by safety verifier: %s", reason)
	case strings.HasPrefix(firstLine, "NEED_INFO:"):
		info := strings.TrimSpace(strings.TrimPrefix(firstLine, "NEED_INFO:"))
		return fmt.Errorf("transaction blocked, more information needed: %s", info)
	default:
		// Unparseable = fail-open.
		return nil
	}
}
