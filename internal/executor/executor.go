// Package executor implements C4, the destination executor: it submits
// signed intents to the Aptos destination chain and confirms inclusion, per
// spec §4.4. It is grounded on the shape of the teacher's BitcoinAdapter
// (src/chainadapter/bitcoin/adapter.go) Build/Sign/Broadcast/QueryStatus
// lifecycle, generalized to Aptos's submit-then-poll-for-finality REST API.
// No Aptos SDK appears anywhere in the example pack (the chain SDKs present
// are Solana, Bitcoin, Ethereum, Zilliqa, Stellar, and Substrate-family), so
// the executor talks to the Aptos REST API directly through the relayer's
// own rpc.Client rather than importing a library with no grounding.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/arcsign/internal/rpc"
	"github.com/yourusername/arcsign/internal/types"
)

// SubmitOutcome is the result of Submit.
type SubmitOutcome int

const (
	Accepted SubmitOutcome = iota
	Rejected
	TransportError
)

// ConfirmOutcome is the result of Confirm.
type ConfirmOutcome int

const (
	Confirmed ConfirmOutcome = iota
	// NotFound is reserved for a destination RPC that distinguishes "no such
	// transaction" from "still pending"; Confirm currently treats both the
	// same way (keep polling until the deadline, then Timeout), so this
	// value is never returned today.
	NotFound
	Reverted
	Timeout
)

// SubmitResult carries the outcome of Submit plus any associated data.
type SubmitResult struct {
	Outcome           SubmitOutcome
	DestinationTxHash string
	Reason            string
}

// ConfirmResult carries the outcome of Confirm.
type ConfirmResult struct {
	Outcome ConfirmOutcome
	Reason  string
}

// Config configures the executor from spec §6 destination.* keys.
type Config struct {
	ContractAddress string
	VaultOwner      string
	MaxGasAmount    uint64
	PollInterval    time.Duration
}

// Executor submits signed intents to the destination chain and confirms
// their inclusion.
type Executor struct {
	cfg    Config
	client rpc.Client
	log    *logrus.Entry
}

// New constructs an Executor.
func New(cfg Config, client rpc.Client, log *logrus.Entry) *Executor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Executor{cfg: cfg, client: client, log: log}
}

// aptosSubmitResponse mirrors the relevant subset of Aptos's
// /transactions submission response.
type aptosSubmitResponse struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// Submit builds and submits the destination transaction calling
// settle(source_tx_hash, receiver, amount, nonce, source_timestamp) on the
// destination contract, per spec §6's abstract destination interface. The
// intent carries no source_tx_hash, so its intent_id (a deterministic hash
// of source_tx_hash) is passed as that first argument, and also to the
// is_settled check. Submit checks is_settled first and, when the contract
// reports the intent settled, returns Accepted with the intent_id as the
// destination hash instead of submitting again.
func (e *Executor) Submit(ctx context.Context, intent types.SettlementIntent) (SubmitResult, error) {
	if settled, err := e.IsSettled(ctx, intent.IntentID); err == nil && settled {
		return SubmitResult{Outcome: Accepted, DestinationTxHash: intent.IntentID}, nil
	}

	payload := map[string]interface{}{
		"sender": e.cfg.VaultOwner,
		"payload": map[string]interface{}{
			"type":          "entry_function_payload",
			"function":      fmt.Sprintf("%s::settlement::settle", e.cfg.ContractAddress),
			"type_arguments": []string{},
			"arguments": []interface{}{
				intent.IntentID,
				intent.Receiver,
				fmt.Sprintf("%d", intent.Amount),
				fmt.Sprintf("%d", intent.Nonce),
				fmt.Sprintf("%d", intent.Timestamp),
			},
		},
		"max_gas_amount": fmt.Sprintf("%d", e.cfg.MaxGasAmount),
	}

	raw, err := e.client.Call(ctx, "submit_transaction", payload)
	if err != nil {
		if isAlreadySettled(err) {
			return SubmitResult{Outcome: Accepted, DestinationTxHash: intent.IntentID}, nil
		}
		return SubmitResult{Outcome: TransportError, Reason: err.Error()}, nil
	}

	var resp aptosSubmitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SubmitResult{Outcome: TransportError, Reason: "failed to parse submit response"}, nil
	}

	if resp.Hash == "" {
		return SubmitResult{Outcome: Rejected, Reason: resp.Message}, nil
	}

	return SubmitResult{Outcome: Accepted, DestinationTxHash: resp.Hash}, nil
}

// aptosTransactionStatus mirrors the relevant subset of Aptos's
// /transactions/by_hash/{hash} response.
type aptosTransactionStatus struct {
	Success bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	Type     string `json:"type"` // "pending_transaction" until finalized
}

// Confirm polls the destination RPC until the transaction finalizes or the
// deadline passes, treating the destination contract's replay guard as a
// non-error Confirmed outcome (spec §4.4).
func (e *Executor) Confirm(ctx context.Context, destinationTxHash string, deadline time.Time) (ConfirmResult, error) {
	for {
		if time.Now().After(deadline) {
			return ConfirmResult{Outcome: Timeout}, nil
		}

		raw, err := e.client.Call(ctx, "get_transaction_by_hash", []interface{}{destinationTxHash})
		if err != nil {
			if isAlreadySettled(err) {
				return ConfirmResult{Outcome: Confirmed}, nil
			}
			if isNotFound(err) {
				select {
				case <-ctx.Done():
					return ConfirmResult{}, ctx.Err()
				case <-time.After(e.cfg.PollInterval):
					continue
				}
			}
			return ConfirmResult{}, fmt.Errorf("get_transaction_by_hash: %w", err)
		}

		var status aptosTransactionStatus
		if err := json.Unmarshal(raw, &status); err != nil {
			return ConfirmResult{}, fmt.Errorf("failed to parse transaction status: %w", err)
		}

		if status.Type == "pending_transaction" {
			select {
			case <-ctx.Done():
				return ConfirmResult{}, ctx.Err()
			case <-time.After(e.cfg.PollInterval):
				continue
			}
		}

		if status.Success {
			return ConfirmResult{Outcome: Confirmed}, nil
		}
		return ConfirmResult{Outcome: Reverted, Reason: status.VMStatus}, nil
	}
}

// IsSettled queries the destination contract's is_settled view function
// directly. Submit calls it, with the intent's intent_id, before every
// submission, so a settlement already recorded on the destination is not
// submitted again (spec §4.4, scenario 5).
func (e *Executor) IsSettled(ctx context.Context, sourceTxHash string) (bool, error) {
	raw, err := e.client.Call(ctx, "view", map[string]interface{}{
		"function":       fmt.Sprintf("%s::settlement::is_settled", e.cfg.ContractAddress),
		"type_arguments": []string{},
		"arguments":      []string{sourceTxHash},
	})
	if err != nil {
		return false, fmt.Errorf("is_settled view call: %w", err)
	}

	var result []bool
	if err := json.Unmarshal(raw, &result); err != nil || len(result) == 0 {
		return false, fmt.Errorf("failed to parse is_settled response")
	}
	return result[0], nil
}

func isAlreadySettled(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ALREADY_SETTLED") || strings.Contains(msg, "already_settled") || strings.Contains(msg, "duplicate")
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "NOT_FOUND") || strings.Contains(msg, "404")
}
