package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/starkbot-agent/core/internal/registers"
	"github.com/starkbot-agent/core/internal/txqueue"
	"github.com/starkbot-agent/core/internal/verifyintent"
	"github.com/starkbot-agent/core/internal/wallet"
	"github.com/starkbot-agent/core/pkg/models"
)

// QueueTransaction runs the intent verifier (C4) against a model-proposed
// transfer, signs it through the wallet.Provider attached to ctx, and
// inserts it into the queue (C3) in the Pending state. This is the step
// BroadcastWeb3Tx's doc comment refers to as "already run before queuing".
type QueueTransaction struct {
	Queue      *txqueue.Queue
	Registers  *registers.Store
	AIVerifier verifyintent.AIVerifier
	Network    string
	ChainID    int64
}

func (t *QueueTransaction) Name() string              { return "queue_transaction" }
func (t *QueueTransaction) Group() models.ToolGroup    { return models.GroupFinance }
func (t *QueueTransaction) Safety() models.SafetyLevel { return models.SafetyStandard }

func (t *QueueTransaction) Description() string {
	return "Verifies and signs a proposed EVM transfer, then queues it as Pending for broadcast_web3_tx."
}

func (t *QueueTransaction) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"},
			"tx_type": {"type": "string", "enum": ["eth_transfer", "contract_call"]},
			"preset": {"type": "string", "description": "e.g. swap_execute"},
			"to": {"type": "string"},
			"value_wei": {"type": "string"},
			"value_display": {"type": "string", "description": "human-readable amount, for the verifier"},
			"data": {"type": "string", "description": "hex-encoded call data, empty for a plain transfer"},
			"nonce": {"type": "integer"},
			"gas_limit": {"type": "integer"},
			"max_fee_per_gas_wei": {"type": "string"},
			"max_priority_fee_per_gas_wei": {"type": "string"},
			"original_user_message": {"type": "string"},
			"channel_id": {"type": "integer"}
		},
		"required": ["session_id", "tx_type", "to", "value_wei", "nonce", "gas_limit", "max_fee_per_gas_wei", "max_priority_fee_per_gas_wei"]
	}`)
}

type queueTxParams struct {
	SessionID               string `json:"session_id"`
	TxType                  string `json:"tx_type"`
	Preset                  string `json:"preset"`
	To                      string `json:"to"`
	ValueWei                string `json:"value_wei"`
	ValueDisplay            string `json:"value_display"`
	Data                    string `json:"data"`
	Nonce                   uint64 `json:"nonce"`
	GasLimit                uint64 `json:"gas_limit"`
	MaxFeePerGasWei         string `json:"max_fee_per_gas_wei"`
	MaxPriorityFeePerGasWei string `json:"max_priority_fee_per_gas_wei"`
	OriginalUserMessage     string `json:"original_user_message"`
	ChannelID               int64  `json:"channel_id"`
}

func (t *QueueTransaction) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p queueTxParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}

	provider, ok := wallet.FromContext(ctx)
	if !ok {
		return &models.ToolResult{Success: false, Content: "no wallet provider is available to sign this transaction"}, nil
	}

	var regs map[string]models.RegisterEntry
	var bank []models.ContextBankItem
	if t.Registers != nil {
		regs = t.Registers.Registers(ctx, p.SessionID)
		bank = t.Registers.ContextBank(ctx, p.SessionID)
	}

	intent := verifyintent.Intent{
		TxType:       p.TxType,
		To:           p.To,
		ValueDisplay: p.ValueDisplay,
		Preset:       p.Preset,
	}
	vctx := verifyintent.Context{
		Registers:           regs,
		ContextBank:         bank,
		OriginalUserMessage: p.OriginalUserMessage,
	}
	if err := verifyintent.Verify(ctx, intent, vctx, t.AIVerifier); err != nil {
		return &models.ToolResult{Success: false, Content: err.Error()}, nil
	}

	value, ok := new(big.Int).SetString(p.ValueWei, 10)
	if !ok {
		return &models.ToolResult{Success: false, Content: "value_wei is not a valid decimal integer"}, nil
	}
	maxFee, ok := new(big.Int).SetString(p.MaxFeePerGasWei, 10)
	if !ok {
		return &models.ToolResult{Success: false, Content: "max_fee_per_gas_wei is not a valid decimal integer"}, nil
	}
	maxPriority, ok := new(big.Int).SetString(p.MaxPriorityFeePerGasWei, 10)
	if !ok {
		return &models.ToolResult{Success: false, Content: "max_priority_fee_per_gas_wei is not a valid decimal integer"}, nil
	}
	if !common.IsHexAddress(p.To) {
		return &models.ToolResult{Success: false, Content: "to is not a valid EVM address"}, nil
	}
	to := common.HexToAddress(p.To)

	rawTx := &types.DynamicFeeTx{
		ChainID:   big.NewInt(t.ChainID),
		Nonce:     p.Nonce,
		GasTipCap: maxPriority,
		GasFeeCap: maxFee,
		Gas:       p.GasLimit,
		To:        &to,
		Value:     value,
		Data:      common.FromHex(p.Data),
	}

	signed, err := provider.SignTransaction(ctx, rawTx)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("signing failed: %v", err)}, nil
	}

	signedTx := types.NewTx(rawTx)
	signedTx, err = signedTx.WithSignature(types.NewLondonSigner(rawTx.ChainID), signed.Bytes())
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to attach signature: %v", err)}, nil
	}
	signedBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to encode signed transaction: %v", err)}, nil
	}

	walletAddr, err := provider.Address(ctx)
	if err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("failed to resolve wallet address: %v", err)}, nil
	}

	queued := t.Queue.Queue(&models.QueuedTransaction{
		Network:              t.Network,
		From:                 walletAddr.Hex(),
		To:                   p.To,
		Value:                p.ValueWei,
		Data:                 p.Data,
		GasLimit:             p.GasLimit,
		MaxFeePerGas:         p.MaxFeePerGasWei,
		MaxPriorityFeePerGas: p.MaxPriorityFeePerGasWei,
		Nonce:                p.Nonce,
		SignedTxHex:          string(signedBytes),
		ChannelID:            p.ChannelID,
		Preset:               p.Preset,
	})

	body, _ := json.Marshal(map[string]string{"uuid": queued.UUID})
	return &models.ToolResult{
		Success:  true,
		Content:  string(body),
		Metadata: map[string]any{"uuid": queued.UUID},
	}, nil
}
