package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/internal/txqueue"
	"github.com/starkbot-agent/core/pkg/models"
)

// Broadcasts is the subset of go-ethereum's ethclient.Client this tool
// needs, kept narrow so tests can stub it.
type Broadcasts interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// BroadcastWeb3Tx submits a previously-queued, already-signed transaction
// to the network: drives C4 (already run before queuing) -> C3 -> C1's
// signed payload -> the network, per the 13-step flow's tool-call path.
type BroadcastWeb3Tx struct {
	Queue       *txqueue.Queue
	Client      Broadcasts
	Broadcaster *events.Broadcaster
	ExplorerFmt string // e.g. "https://basescan.org/tx/%s"
}

func (t *BroadcastWeb3Tx) Name() string               { return "broadcast_web3_tx" }
func (t *BroadcastWeb3Tx) Group() models.ToolGroup    { return models.GroupFinance }
func (t *BroadcastWeb3Tx) Safety() models.SafetyLevel { return models.SafetyStandard }

func (t *BroadcastWeb3Tx) Description() string {
	return "Broadcasts a previously signed and queued transaction to the network by UUID."
}

func (t *BroadcastWeb3Tx) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"uuid": {"type": "string", "description": "UUID of the queued transaction to broadcast."}},
		"required": ["uuid"]
	}`)
}

type broadcastParams struct {
	UUID string `json:"uuid"`
}

func (t *BroadcastWeb3Tx) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p broadcastParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}

	queued, err := t.Queue.Broadcast(p.UUID)
	if err != nil {
		return &models.ToolResult{Success: false, Content: err.Error()}, nil
	}

	var signedTx types.Transaction
	if err := signedTx.UnmarshalBinary([]byte(queued.SignedTxHex)); err != nil {
		_ = t.Queue.MarkFailed(p.UUID, "malformed signed transaction")
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("transaction %s has a malformed signed payload: %v", p.UUID, err)}, nil
	}

	if err := t.Queue.MarkBroadcasting(p.UUID); err != nil {
		return &models.ToolResult{Success: false, Content: err.Error()}, nil
	}

	if err := t.Client.SendTransaction(ctx, &signedTx); err != nil {
		_ = t.Queue.MarkFailed(p.UUID, err.Error())
		return &models.ToolResult{Success: false, Content: fmt.Sprintf("broadcast failed: %v", err)}, nil
	}

	txHash := signedTx.Hash().Hex()
	explorerURL := fmt.Sprintf(t.ExplorerFmt, txHash)
	if err := t.Queue.MarkBroadcast(p.UUID, txHash, explorerURL, models.InitiatorRogue); err != nil {
		return &models.ToolResult{Success: false, Content: err.Error()}, nil
	}

	if t.Broadcaster != nil {
		t.Broadcaster.Publish(models.NewEvent(models.EventTxPending, queued.ChannelID, map[string]any{
			"uuid":         p.UUID,
			"tx_hash":      txHash,
			"explorer_url": explorerURL,
		}).WithTool(t.Name()))
	}

	body, _ := json.Marshal(map[string]string{"tx_hash": txHash, "explorer_url": explorerURL})
	return &models.ToolResult{
		Success: true,
		Content: string(body),
		Metadata: map[string]any{
			"uuid":         p.UUID,
			"tx_hash":      txHash,
			"explorer_url": explorerURL,
		},
	}, nil
}
