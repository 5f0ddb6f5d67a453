package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starkbot-agent/core/pkg/models"
)

// TokenInfo is one token's address and decimals on a given network, used to
// prevent the model from hallucinating an address for a well-known token.
type TokenInfo struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name"`
}

// TokenLookup resolves a symbol to its address/decimals on a network from a
// fixed in-memory catalog. The on-disk catalog format the catalog would
// normally be loaded from is out of scope.
type TokenLookup struct {
	// Catalog maps network -> uppercased symbol -> TokenInfo.
	Catalog map[string]map[string]TokenInfo
}

// NewTokenLookup seeds a TokenLookup with a minimal Base-network catalog
// covering the assets the rest of the seed tool catalog assumes exist.
func NewTokenLookup() *TokenLookup {
	return &TokenLookup{Catalog: map[string]map[string]TokenInfo{
		"base": {
			"ETH":  {Address: "0x0000000000000000000000000000000000EEEE", Decimals: 18, Name: "Ether"},
			"WETH": {Address: "0x42000000000000000000000000000000000006", Decimals: 18, Name: "Wrapped Ether"},
			"USDC": {Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6, Name: "USD Coin"},
		},
	}}
}

func (t *TokenLookup) Name() string               { return "token_lookup" }
func (t *TokenLookup) Group() models.ToolGroup    { return models.GroupFinance }
func (t *TokenLookup) Safety() models.SafetyLevel { return models.SafetyReadOnly }

func (t *TokenLookup) Description() string {
	return "Resolves a token symbol to its address and decimals on a network, preventing hallucinated token addresses."
}

func (t *TokenLookup) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"symbol": {"type": "string", "description": "Token symbol, e.g. ETH, USDC, WETH."},
			"network": {"type": "string", "default": "base", "enum": ["base", "mainnet", "polygon", "arbitrum", "optimism"]}
		},
		"required": ["symbol"]
	}`)
}

type tokenLookupParams struct {
	Symbol  string `json:"symbol"`
	Network string `json:"network"`
}

func (t *TokenLookup) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p tokenLookupParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	network := p.Network
	if network == "" {
		network = "base"
	}

	tokens, ok := t.Catalog[network]
	if !ok {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("no token catalog for network %q", network)}, nil
	}
	info, ok := tokens[strings.ToUpper(p.Symbol)]
	if !ok {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("unknown token %q on network %q", p.Symbol, network)}, nil
	}

	body, _ := json.Marshal(info)
	return &models.ToolResult{
		Success: true,
		Content: string(body),
		Metadata: map[string]any{
			"symbol":  strings.ToUpper(p.Symbol),
			"network": network,
		},
	}, nil
}
