package models

import "time"

// TxStatus is the broadcast lifecycle of a QueuedTransaction. Transitions
// follow Pending -> Broadcasting -> {Broadcast -> Confirmed | Failed} |
// Failed | Expired. A transaction never regresses out of a terminal state.
type TxStatus string

const (
	TxPending     TxStatus = "pending"
	TxBroadcasting TxStatus = "broadcasting"
	TxBroadcast   TxStatus = "broadcast"
	TxConfirmed   TxStatus = "confirmed"
	TxFailed      TxStatus = "failed"
	TxExpired     TxStatus = "expired"
)

// Terminal reports whether the status can never transition further.
func (s TxStatus) Terminal() bool {
	switch s {
	case TxConfirmed, TxFailed, TxExpired:
		return true
	default:
		return false
	}
}

// BroadcastInitiator records who triggered the broadcast of a transaction,
// for audit purposes: the agent acting autonomously (rogue mode), a human
// confirming through the UI (partner), or an initiator that could not be
// determined.
type BroadcastInitiator string

const (
	InitiatorRogue   BroadcastInitiator = "rogue"
	InitiatorPartner BroadcastInitiator = "partner"
	InitiatorUnknown BroadcastInitiator = "unknown"
)

// QueuedTransaction is a signed but not-yet-broadcast EVM transaction held
// by the transaction queue (C3), keyed by UUID.
type QueuedTransaction struct {
	UUID     string `json:"uuid"`
	Network  string `json:"network"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"` // decimal wei string
	Data     string `json:"data"`  // hex
	GasLimit uint64 `json:"gas_limit"`

	MaxFeePerGas         string `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas"`
	Nonce                uint64 `json:"nonce"`

	SignedTxHex string `json:"signed_tx_hex"`

	ChannelID int64  `json:"channel_id,omitempty"`
	Preset    string `json:"preset,omitempty"`

	Status      TxStatus           `json:"status"`
	TxHash      string             `json:"tx_hash,omitempty"`
	ExplorerURL string             `json:"explorer_url,omitempty"`
	Error       string             `json:"error,omitempty"`
	Initiator   BroadcastInitiator `json:"broadcast_initiator"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterEntry is one value held in a conversation's RegisterStore, tagged
// with the tool that produced it for audit purposes.
type RegisterEntry struct {
	Value      any    `json:"value"`
	SourceTool string `json:"source_tool"`
}

// ContextItemType classifies a ContextBank entry so the intent verifier can
// filter for e.g. "eth_address" typed facts.
type ContextItemType string

const (
	ContextItemEthAddress ContextItemType = "eth_address"
	ContextItemText       ContextItemType = "text"
)

// ContextBankItem is one append-only fact the user has supplied, such as
// "this address is my friend".
type ContextBankItem struct {
	Value    string          `json:"value"`
	ItemType ContextItemType `json:"item_type"`
	Label    string          `json:"label,omitempty"`
}
