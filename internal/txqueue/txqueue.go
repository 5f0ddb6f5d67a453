// Package txqueue implements the transaction queue (C3): a thread-safe
// UUID-keyed store of signed, not-yet-broadcast transactions with a strict
// state machine that never regresses.
package txqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot-agent/core/pkg/models"
)

// Queue is the thread-safe map UUID -> QueuedTransaction described in §4.3.
type Queue struct {
	mu  sync.RWMutex
	txs map[string]*models.QueuedTransaction
}

// New creates an empty transaction queue.
func New() *Queue {
	return &Queue{txs: make(map[string]*models.QueuedTransaction)}
}

// Queue inserts tx in state Pending, assigning a UUID if absent.
func (q *Queue) Queue(tx *models.QueuedTransaction) *models.QueuedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	clone := *tx
	if clone.UUID == "" {
		clone.UUID = uuid.NewString()
	}
	clone.Status = models.TxPending
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	q.txs[clone.UUID] = &clone
	return &clone
}

// Get returns the transaction for uuid, or nil if absent.
func (q *Queue) Get(id string) *models.QueuedTransaction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	tx, ok := q.txs[id]
	if !ok {
		return nil
	}
	clone := *tx
	return &clone
}

// ListByChannel returns every queued transaction for channelID.
func (q *Queue) ListByChannel(channelID int64) []*models.QueuedTransaction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*models.QueuedTransaction
	for _, tx := range q.txs {
		if tx.ChannelID == channelID {
			clone := *tx
			out = append(out, &clone)
		}
	}
	return out
}

// allowedTransitions enumerates the legal edges of §3's state diagram:
// Pending -> Broadcasting -> {Broadcast -> Confirmed | Failed} | Failed | Expired.
var allowedTransitions = map[models.TxStatus]map[models.TxStatus]bool{
	models.TxPending:      {models.TxBroadcasting: true, models.TxFailed: true, models.TxExpired: true},
	models.TxBroadcasting: {models.TxBroadcast: true, models.TxFailed: true},
	models.TxBroadcast:    {models.TxConfirmed: true, models.TxFailed: true},
}

func (q *Queue) transition(id string, next models.TxStatus, mutate func(tx *models.QueuedTransaction)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, ok := q.txs[id]
	if !ok {
		return fmt.Errorf("txqueue: transaction %s not found", id)
	}
	if !allowedTransitions[tx.Status][next] {
		return fmt.Errorf("txqueue: cannot transition %s from %s to %s", id, tx.Status, next)
	}
	tx.Status = next
	tx.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(tx)
	}
	return nil
}

// MarkBroadcasting transitions a Pending transaction to Broadcasting.
func (q *Queue) MarkBroadcasting(id string) error {
	return q.transition(id, models.TxBroadcasting, nil)
}

// MarkBroadcast transitions a Broadcasting transaction to Broadcast,
// recording its hash, explorer URL, and initiator.
func (q *Queue) MarkBroadcast(id, txHash, explorerURL string, initiator models.BroadcastInitiator) error {
	return q.transition(id, models.TxBroadcast, func(tx *models.QueuedTransaction) {
		tx.TxHash = txHash
		tx.ExplorerURL = explorerURL
		tx.Initiator = initiator
	})
}

// MarkConfirmed transitions a Broadcast transaction to Confirmed.
func (q *Queue) MarkConfirmed(id string) error {
	return q.transition(id, models.TxConfirmed, nil)
}

// MarkFailed transitions to Failed from Pending, Broadcasting, or Broadcast,
// recording reason.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.transition(id, models.TxFailed, func(tx *models.QueuedTransaction) {
		tx.Error = reason
	})
}

// MarkExpired transitions a Pending transaction to Expired.
func (q *Queue) MarkExpired(id string) error {
	return q.transition(id, models.TxExpired, nil)
}

// Broadcast validates id is Pending before a caller signs and submits it to
// the network, naming the current state (and, if already broadcast, the tx
// hash and explorer URL) when it isn't.
func (q *Queue) Broadcast(id string) (*models.QueuedTransaction, error) {
	q.mu.RLock()
	tx, ok := q.txs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("txqueue: transaction %s not found", id)
	}
	if tx.Status != models.TxPending {
		if tx.Status == models.TxBroadcast || tx.Status == models.TxConfirmed {
			return nil, fmt.Errorf("txqueue: transaction %s is already %s (tx_hash=%s, explorer_url=%s)", id, tx.Status, tx.TxHash, tx.ExplorerURL)
		}
		return nil, fmt.Errorf("txqueue: transaction %s is %s, not pending", id, tx.Status)
	}
	clone := *tx
	return &clone, nil
}
