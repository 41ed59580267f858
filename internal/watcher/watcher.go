// Package watcher implements C1, the source watcher: it polls the source
// chain for program-emitted settlement events and normalizes them into
// SettlementRequest records for the processor, per spec §4.1. The polling
// shape follows the teacher's SubscribeStatus polling loop
// (src/chainadapter/bitcoin/adapter.go), generalized from polling a single
// transaction's confirmation status to scanning a program's signature
// history since a checkpoint.
package watcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/arcsign/internal/rpc"
	"github.com/yourusername/arcsign/internal/types"
)

// sourceEvent mirrors the event schema named in spec §6.
type sourceEvent struct {
	SourceChain    string `json:"source_chain"`
	AptosRecipient string `json:"aptos_recipient"`
	AmountUSDC     uint64 `json:"amount_usdc"`
	Nonce          uint64 `json:"nonce"`
	Slot           uint64 `json:"slot"`
	Timestamp      uint64 `json:"timestamp"`
}

// signatureEntry is one row of getSignaturesForAddress's result.
type signatureEntry struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       interface{} `json:"err"`
}

// transactionResult is the subset of getTransaction's response the watcher
// parses.
type transactionResult struct {
	Slot uint64 `json:"slot"`
	Meta struct {
		LogMessages []string    `json:"logMessages"`
		Err         interface{} `json:"err"`
	} `json:"meta"`
	BlockTime *int64 `json:"blockTime"`
}

// Config configures one Watcher instance; it mirrors spec §6's source.*
// keys.
type Config struct {
	ProgramID        string
	DestinationChain string
	PollInterval     time.Duration
	BackoffBase      time.Duration
	BackoffCap       time.Duration
}

// Watcher polls the source chain and emits SettlementRequest records onto
// its output channel.
type Watcher struct {
	cfg        Config
	client     rpc.Client
	checkpoint CheckpointStore
	out        chan<- types.IngestRequest
	log        *logrus.Entry
}

// New constructs a Watcher. out is the bounded channel shared with the
// processor (spec §5, default capacity 1024); each send is paired with an
// Ack the processor uses to confirm durable persistence before the watcher
// advances its checkpoint past that request.
func New(cfg Config, client rpc.Client, checkpoint CheckpointStore, out chan<- types.IngestRequest, log *logrus.Entry) (*Watcher, error) {
	if _, err := solana.PublicKeyFromBase58(cfg.ProgramID); err != nil {
		return nil, types.NewConfigurationError(types.ErrCodeInvalidConfig, "source.program_id is not a valid base58 pubkey", err)
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 30 * time.Second
	}

	return &Watcher{cfg: cfg, client: client, checkpoint: checkpoint, out: out, log: log}, nil
}

// Run polls until ctx is cancelled. It never returns an error for transient
// RPC failures; it backs off and keeps polling, per spec §4.1.
func (w *Watcher) Run(ctx context.Context) error {
	cp, err := w.checkpoint.Load()
	if err != nil {
		return err
	}

	backoff := w.cfg.BackoffBase

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		newCheckpoint, err := w.pollOnce(ctx, cp)
		if err != nil {
			w.log.WithError(err).WithField("backoff_ms", backoff.Milliseconds()).Warn("source rpc unavailable, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.cfg.BackoffCap {
				backoff = w.cfg.BackoffCap
			}
			continue
		}

		backoff = w.cfg.BackoffBase
		cp = newCheckpoint

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// pollOnce fetches signatures since the checkpoint, parses each transaction,
// emits a SettlementRequest per parseable event, and advances the checkpoint
// only after the processor has acked every request in this cycle as
// durably persisted, per the checkpoint policy in spec §4.1. A channel send
// alone only proves the request is buffered; the checkpoint must not move
// past it until the ack confirms store.PutIfAbsent has actually returned.
func (w *Watcher) pollOnce(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	params := []interface{}{w.cfg.ProgramID, map[string]interface{}{"limit": 100}}
	if cp.LastSignature != "" {
		params[1].(map[string]interface{})["until"] = cp.LastSignature
	}

	raw, err := w.client.Call(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return cp, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	var entries []signatureEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return cp, fmt.Errorf("failed to parse signatures response: %w", err)
	}

	// The RPC returns newest-first; replay oldest-first so ordering into
	// the channel matches source order (spec §5 ordering guarantee (a)).
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	newCheckpoint := cp
	for _, entry := range entries {
		if entry.Err != nil {
			newCheckpoint = Checkpoint{LastSignature: entry.Signature, LastSlot: entry.Slot}
			continue
		}

		req, err := w.fetchAndParse(ctx, entry)
		if err != nil {
			if re, ok := err.(*types.RelayerError); ok && re.Classification == types.Malformed {
				w.log.WithError(err).WithField("signature", entry.Signature).Warn("skipping malformed settlement event")
				newCheckpoint = Checkpoint{LastSignature: entry.Signature, LastSlot: entry.Slot}
				continue
			}
			return cp, err
		}

		ack := make(chan error, 1)
		select {
		case w.out <- types.IngestRequest{Request: req, Ack: ack}:
		case <-ctx.Done():
			return cp, ctx.Err()
		}

		select {
		case ackErr := <-ack:
			if ackErr != nil {
				return cp, fmt.Errorf("processor failed to durably persist settlement %s: %w", entry.Signature, ackErr)
			}
		case <-ctx.Done():
			return cp, ctx.Err()
		}

		newCheckpoint = Checkpoint{LastSignature: entry.Signature, LastSlot: entry.Slot}
	}

	if err := w.checkpoint.Save(newCheckpoint); err != nil {
		return cp, err
	}

	return newCheckpoint, nil
}

func (w *Watcher) fetchAndParse(ctx context.Context, entry signatureEntry) (types.SettlementRequest, error) {
	raw, err := w.client.Call(ctx, "getTransaction", []interface{}{
		entry.Signature,
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	})
	if err != nil {
		return types.SettlementRequest{}, fmt.Errorf("getTransaction: %w", err)
	}

	var tx transactionResult
	if err := json.Unmarshal(raw, &tx); err != nil {
		return types.SettlementRequest{}, types.NewMalformedError("failed to parse transaction payload", err)
	}

	event, err := parseSettlementEvent(tx.Meta.LogMessages)
	if err != nil {
		return types.SettlementRequest{}, err
	}

	observedAt := time.Now()
	sourceTimestamp := event.Timestamp
	if tx.BlockTime != nil {
		sourceTimestamp = uint64(*tx.BlockTime)
	}

	return types.SettlementRequest{
		SourceTxHash:     entry.Signature,
		SourceChain:      "solana",
		DestinationChain: w.cfg.DestinationChain,
		Sender:           w.cfg.ProgramID,
		Receiver:         event.AptosRecipient,
		Asset:            "USDC",
		Amount:           event.AmountUSDC,
		Nonce:            event.Nonce,
		SourceTimestamp:  sourceTimestamp,
		ObservedAt:       observedAt,
	}, nil
}

// parseSettlementEvent extracts the structured event payload from a
// transaction's program logs. The on-chain program is out of scope (spec
// §1); this relayer expects it to emit one "Program data: <base64 json>"
// line per settlement, the common convention for Anchor-style programs.
func parseSettlementEvent(logs []string) (sourceEvent, error) {
	const prefix = "Program data: "

	for _, line := range logs {
		if len(line) <= len(prefix) || line[:len(prefix)] != prefix {
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(line[len(prefix):])
		if err != nil {
			continue
		}

		var event sourceEvent
		if err := json.Unmarshal(decoded, &event); err != nil {
			continue
		}
		if event.AptosRecipient == "" {
			continue
		}
		return event, nil
	}

	return sourceEvent{}, types.NewMalformedError("no parseable settlement event in transaction logs", nil)
}
