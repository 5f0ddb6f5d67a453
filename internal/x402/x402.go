// Package x402 implements the x402 payment-protocol signer (C2): it wraps a
// wallet.Provider to turn an HTTP 402 challenge's payment requirements into
// a base64-encoded X-PAYMENT header, grounded on the same control-plane
// request/retry shape as the Flash wallet provider.
package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/starkbot-agent/core/internal/wallet"
)

// MaxAmountCeiling is the hard, non-configurable ceiling on any single
// payment requirement: 1000 * 10^18 (wei-equivalent of the requirement's
// asset). Any payment requirements requesting more than this are a fatal
// error, never silently capped.
var MaxAmountCeiling = new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// PaymentRequirements is one entry of a 402 response body's accepts[] list.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"max_amount_required"`
	PayTo             string          `json:"pay_to"`
	Resource          string          `json:"resource"`
	MaxTimeoutSeconds int             `json:"max_timeout_seconds"`
	Asset             string          `json:"asset"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// ChallengeBody is the JSON body of an HTTP 402 response.
type ChallengeBody struct {
	Accepts []PaymentRequirements `json:"accepts"`
}

// Signer produces X-PAYMENT headers from 402 challenges.
type Signer struct {
	provider wallet.Provider
	from     string
}

// NewSigner builds a Signer over provider. from is the payer's address,
// resolved once and embedded in every TransferWithAuthorization payload.
func NewSigner(provider wallet.Provider, fromAddress string) *Signer {
	return &Signer{provider: provider, from: fromAddress}
}

// PayHeader parses requirements, picks the first accepted entry, enforces
// the hard ceiling, signs an EIP-712 TransferWithAuthorization payload, and
// returns the base64-encoded X-PAYMENT header value.
func (s *Signer) PayHeader(ctx context.Context, body ChallengeBody) (string, error) {
	if len(body.Accepts) == 0 {
		return "", fmt.Errorf("x402: 402 response carried no accepts[] entries")
	}
	req := body.Accepts[0]

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return "", fmt.Errorf("x402: unparseable max_amount_required %q", req.MaxAmountRequired)
	}
	if amount.Cmp(MaxAmountCeiling) > 0 {
		return "", fmt.Errorf("x402: max_amount_required %s exceeds hard ceiling %s; refusing to pay", amount, MaxAmountCeiling)
	}

	payload := transferWithAuthorizationPayload(req, s.from, amount)
	sig, err := s.provider.SignTypedData(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("x402: sign payment authorization: %w", err)
	}

	envelope := struct {
		Scheme     string `json:"scheme"`
		Network    string `json:"network"`
		Payload    struct {
			Signature string          `json:"signature"`
			Authorization json.RawMessage `json:"authorization"`
		} `json:"payload"`
	}{Scheme: req.Scheme, Network: req.Network}
	envelope.Payload.Signature = "0x" + hexEncode(sig.Bytes())
	auth, err := json.Marshal(payload["message"])
	if err != nil {
		return "", fmt.Errorf("x402: marshal authorization: %w", err)
	}
	envelope.Payload.Authorization = auth

	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("x402: marshal header envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// transferWithAuthorizationPayload builds the EIP-712 payload for an
// ERC-3009 TransferWithAuthorization, the standard x402 scheme's payload
// shape.
func transferWithAuthorizationPayload(req PaymentRequirements, from string, amount *big.Int) wallet.TypedData {
	return wallet.TypedData{
		"types": map[string]any{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "verifyingContract", "type": "address"},
			},
			"TransferWithAuthorization": []map[string]string{
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
			},
		},
		"primaryType": "TransferWithAuthorization",
		"domain": map[string]any{
			"name":              "USDC",
			"version":           "2",
			"verifyingContract": req.Asset,
		},
		"message": map[string]any{
			"from":        from,
			"to":          req.PayTo,
			"value":       amount.String(),
			"validAfter":  "0",
			"validBefore": fmt.Sprintf("%d", req.MaxTimeoutSeconds),
			"nonce":       randomNonceHex(),
		},
	}
}
