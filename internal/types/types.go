// Package types holds the settlement data model shared across the relayer's
// components: the watcher's output, the store's persisted record, and the
// signer's signed intent.
package types

import "time"

// Status is the lifecycle state of a settlement record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSigning    Status = "signing"
	StatusSubmitting Status = "submitting"
	StatusAwaiting   Status = "awaiting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is expected from this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// SettlementRequest is the normalized record produced by the source watcher
// for one source-chain settlement event. SourceTxHash is the primary key
// across the whole system.
type SettlementRequest struct {
	SourceTxHash       string    `json:"source_tx_hash"`
	SourceChain        string    `json:"source_chain"`
	DestinationChain   string    `json:"destination_chain"`
	Sender             string    `json:"sender"`
	Receiver           string    `json:"receiver"`
	Asset              string    `json:"asset"`
	Amount             uint64    `json:"amount"`
	Nonce              uint64    `json:"nonce"`
	SourceTimestamp    uint64    `json:"source_timestamp"`
	ObservedAt         time.Time `json:"observed_at"`
}

// IngestRequest carries one SettlementRequest from the watcher to the
// processor over their shared bounded channel, together with an Ack the
// processor uses to report back once the request has been durably
// persisted (or has failed to persist). The watcher must wait for Ack
// before treating the request as safe to checkpoint past (spec §4.1's
// checkpoint policy): a successful channel send only proves the request is
// buffered, not that C2 has written it.
type IngestRequest struct {
	Request SettlementRequest
	Ack     chan error
}

// SettlementIntent is the canonical, signed description of a settlement,
// submittable to the destination executor.
type SettlementIntent struct {
	ProtocolVersion  int    `json:"protocol_version"`
	IntentID         string `json:"intent_id"`
	SourceChain      string `json:"source_chain"`
	DestinationChain string `json:"destination_chain"`
	Sender           string `json:"sender"`
	Receiver         string `json:"receiver"`
	Asset            string `json:"asset"`
	Amount           uint64 `json:"amount"`
	Nonce            uint64 `json:"nonce"`
	Timestamp        uint64 `json:"timestamp"`
	Expiry           uint64 `json:"expiry"`
	Signature        string `json:"signature"` // base64
}

// SettlementState is the mutable, store-persisted half of a settlement
// record; SettlementRequest is immutable once ingested.
type SettlementState struct {
	Status            Status    `json:"status"`
	Attempts          int       `json:"attempts"`
	LastError         string    `json:"last_error,omitempty"`
	DestinationTxHash string    `json:"destination_tx_hash,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Record is the pair held by the store under one source_tx_hash.
type Record struct {
	Request SettlementRequest `json:"request"`
	State   SettlementState   `json:"state"`
}

// NewPendingState returns the initial state for a freshly ingested request.
func NewPendingState(now time.Time) SettlementState {
	return SettlementState{
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
