package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/internal/txqueue"
	"github.com/starkbot-agent/core/pkg/models"
)

func TestWebFetchRefusesPrivateHosts(t *testing.T) {
	tool := NewWebFetch()
	params, _ := json.Marshal(map[string]string{"url": "http://localhost:8080/secret"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Fatal("expected a localhost URL to be refused")
	}
}

func TestWebFetchRejectsNonHTTPScheme(t *testing.T) {
	tool := NewWebFetch()
	params, _ := json.Marshal(map[string]string{"url": "file:///etc/passwd"})
	result, _ := tool.Execute(context.Background(), params)
	if result.Success {
		t.Fatal("expected a non-http(s) scheme to be rejected")
	}
}

func TestExecRejectsShellMetacharacters(t *testing.T) {
	tool := &Exec{}
	params, _ := json.Marshal(map[string]any{"command": "echo", "args": []string{"hi; rm -rf /"}})
	result, _ := tool.Execute(context.Background(), params)
	if result.Success {
		t.Fatal("expected shell metacharacters in an argument to be rejected")
	}
}

func TestExecRunsSimpleCommand(t *testing.T) {
	tool := &Exec{}
	params, _ := json.Marshal(map[string]any{"command": "echo", "args": []string{"hello"}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("expected echo to succeed, got %q", result.Content)
	}
}

func TestExecUsesCommandQueueWhenConstructedViaNewExec(t *testing.T) {
	tool := NewExec()
	params, _ := json.Marshal(map[string]any{"command": "echo", "args": []string{"queued"}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("expected queued echo to succeed, got %q", result.Content)
	}
}

func TestReadWriteFileConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	write := &WriteFile{Root: root}
	params, _ := json.Marshal(map[string]string{"path": "notes/a.txt", "content": "hello"})
	result, err := write.Execute(context.Background(), params)
	if err != nil || !result.Success {
		t.Fatalf("WriteFile.Execute() = %+v, err %v", result, err)
	}

	read := &ReadFile{Root: root}
	params, _ = json.Marshal(map[string]string{"path": "notes/a.txt"})
	result, err = read.Execute(context.Background(), params)
	if err != nil || !result.Success || result.Content != "hello" {
		t.Fatalf("ReadFile.Execute() = %+v, err %v", result, err)
	}

	if _, err := os.Stat(filepath.Join(root, "notes", "a.txt")); err != nil {
		t.Fatalf("expected file to exist on disk: %v", err)
	}
}

func TestReadFileRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	read := &ReadFile{Root: root}
	params, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	result, _ := read.Execute(context.Background(), params)
	if result.Success {
		t.Fatal("expected a path escaping the root to be rejected")
	}
}

func TestTokenLookupResolvesKnownSymbol(t *testing.T) {
	tool := NewTokenLookup()
	params, _ := json.Marshal(map[string]string{"symbol": "usdc"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || !result.Success {
		t.Fatalf("Execute() = %+v, err %v", result, err)
	}
	var info TokenInfo
	if err := json.Unmarshal([]byte(result.Content), &info); err != nil {
		t.Fatalf("expected JSON token info, got %q", result.Content)
	}
	if info.Decimals != 6 {
		t.Fatalf("expected USDC to have 6 decimals, got %d", info.Decimals)
	}
}

func TestTokenLookupRejectsUnknownSymbol(t *testing.T) {
	tool := NewTokenLookup()
	params, _ := json.Marshal(map[string]string{"symbol": "NOTATOKEN"})
	result, _ := tool.Execute(context.Background(), params)
	if result.Success {
		t.Fatal("expected an unknown symbol to fail")
	}
}

func TestModifyKanbanCreateListPickComplete(t *testing.T) {
	tool := NewModifyKanban()
	createParams, _ := json.Marshal(map[string]any{"action": "create", "title": "do thing", "channel_id": int64(1)})
	result, err := tool.Execute(context.Background(), createParams)
	if err != nil || !result.Success {
		t.Fatalf("create Execute() = %+v, err %v", result, err)
	}
	var created KanbanItem
	if err := json.Unmarshal([]byte(result.Content), &created); err != nil {
		t.Fatalf("expected JSON item, got %q", result.Content)
	}
	if created.Status != KanbanReady {
		t.Fatalf("expected new item to start ready, got %s", created.Status)
	}

	pickParams, _ := json.Marshal(map[string]any{"action": "pick_task", "channel_id": int64(1)})
	result, err = tool.Execute(context.Background(), pickParams)
	if err != nil || !result.Success {
		t.Fatalf("pick_task Execute() = %+v, err %v", result, err)
	}
	var picked KanbanItem
	_ = json.Unmarshal([]byte(result.Content), &picked)
	if picked.Status != KanbanInProgress {
		t.Fatalf("expected picked item to move to in_progress, got %s", picked.Status)
	}

	updateParams, _ := json.Marshal(map[string]any{"action": "update_status", "item_id": picked.ID, "status": "complete"})
	result, err = tool.Execute(context.Background(), updateParams)
	if err != nil || !result.Success {
		t.Fatalf("update_status Execute() = %+v, err %v", result, err)
	}
}

type stubBroadcastClient struct {
	sendErr error
	sent    *types.Transaction
}

func (s *stubBroadcastClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.sent = tx
	return s.sendErr
}

func dynamicFeeTxBytes(t *testing.T) []byte {
	t.Helper()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(8453),
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &common.Address{},
		Value:     big.NewInt(0),
		V:         big.NewInt(0),
		R:         big.NewInt(0),
		S:         big.NewInt(0),
	})
	data, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	return data
}

func TestBroadcastWeb3TxHappyPath(t *testing.T) {
	q := txqueue.New()
	queued := q.Queue(&models.QueuedTransaction{Network: "base", SignedTxHex: string(dynamicFeeTxBytes(t))})

	client := &stubBroadcastClient{}
	tool := &BroadcastWeb3Tx{
		Queue:       q,
		Client:      client,
		Broadcaster: events.NewBroadcaster(),
		ExplorerFmt: "https://basescan.org/tx/%s",
	}

	params, _ := json.Marshal(map[string]string{"uuid": queued.UUID})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("expected broadcast to succeed, got %q", result.Content)
	}
	if client.sent == nil {
		t.Fatal("expected SendTransaction to be called")
	}

	got := q.Get(queued.UUID)
	if got.Status != models.TxBroadcast {
		t.Fatalf("expected status Broadcast, got %s", got.Status)
	}
}

func TestBroadcastWeb3TxMarksFailedOnSendError(t *testing.T) {
	q := txqueue.New()
	queued := q.Queue(&models.QueuedTransaction{Network: "base", SignedTxHex: string(dynamicFeeTxBytes(t))})

	client := &stubBroadcastClient{sendErr: errors.New("rpc unavailable")}
	tool := &BroadcastWeb3Tx{Queue: q, Client: client, ExplorerFmt: "https://basescan.org/tx/%s"}

	params, _ := json.Marshal(map[string]string{"uuid": queued.UUID})
	result, _ := tool.Execute(context.Background(), params)
	if result.Success {
		t.Fatal("expected broadcast failure to be reported")
	}

	got := q.Get(queued.UUID)
	if got.Status != models.TxFailed {
		t.Fatalf("expected status Failed, got %s", got.Status)
	}
}

func TestBroadcastWeb3TxRejectsUnknownUUID(t *testing.T) {
	q := txqueue.New()
	tool := &BroadcastWeb3Tx{Queue: q, Client: &stubBroadcastClient{}, ExplorerFmt: "https://basescan.org/tx/%s"}
	params, _ := json.Marshal(map[string]string{"uuid": "does-not-exist"})
	result, _ := tool.Execute(context.Background(), params)
	if result.Success {
		t.Fatal("expected an unknown UUID to fail")
	}
}
