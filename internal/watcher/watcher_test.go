package watcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/arcsign/internal/types"
)

// testProgramID is a valid base58-encoded Solana pubkey (the system
// program's), used wherever New's validation needs one but the value
// itself doesn't matter.
const testProgramID = "11111111111111111111111111111111"

// fakeRPCClient implements rpc.Client with one signature entry and its
// transaction fixed in advance, enough to drive a single pollOnce cycle.
type fakeRPCClient struct {
	signature string
	logs      []string
}

func (c *fakeRPCClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	switch method {
	case "getSignaturesForAddress":
		return json.Marshal([]signatureEntry{{Signature: c.signature, Slot: 1}})
	case "getTransaction":
		tx := transactionResult{Slot: 1}
		tx.Meta.LogMessages = c.logs
		return json.Marshal(tx)
	}
	return nil, errors.New("unscripted method: " + method)
}

func (c *fakeRPCClient) Close() error { return nil }

// fakeCheckpointStore records every Save call so tests can assert on
// exactly when (and whether) the checkpoint was persisted.
type fakeCheckpointStore struct {
	mu    sync.Mutex
	saves []Checkpoint
}

func (f *fakeCheckpointStore) Load() (Checkpoint, error) { return Checkpoint{}, nil }

func (f *fakeCheckpointStore) Save(cp Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, cp)
	return nil
}

func (f *fakeCheckpointStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func encodeEvent(t *testing.T, event sourceEvent) string {
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return "Program data: " + base64.StdEncoding.EncodeToString(data)
}

func TestParseSettlementEvent_ExtractsFromProgramDataLine(t *testing.T) {
	event := sourceEvent{
		SourceChain:    "solana",
		AptosRecipient: "0xrecipient",
		AmountUSDC:     1_000_000,
		Nonce:          7,
		Slot:           123,
		Timestamp:      1_700_000_000,
	}

	logs := []string{
		"Program log: Instruction: Settle",
		encodeEvent(t, event),
		"Program consumed 5000 of 200000 compute units",
	}

	parsed, err := parseSettlementEvent(logs)
	require.NoError(t, err)
	assert.Equal(t, event.AptosRecipient, parsed.AptosRecipient)
	assert.Equal(t, event.AmountUSDC, parsed.AmountUSDC)
	assert.Equal(t, event.Nonce, parsed.Nonce)
}

func TestParseSettlementEvent_SkipsUnrelatedLines(t *testing.T) {
	logs := []string{"Program log: something else happened"}

	_, err := parseSettlementEvent(logs)
	require.Error(t, err)

	re, ok := err.(*types.RelayerError)
	require.True(t, ok)
	assert.Equal(t, types.Malformed, re.Classification)
}

func TestParseSettlementEvent_SkipsEventsMissingRecipient(t *testing.T) {
	logs := []string{encodeEvent(t, sourceEvent{AmountUSDC: 100})}

	_, err := parseSettlementEvent(logs)
	require.Error(t, err)
}

func TestParseSettlementEvent_SkipsMalformedBase64(t *testing.T) {
	logs := []string{"Program data: not-valid-base64!!"}

	_, err := parseSettlementEvent(logs)
	require.Error(t, err)
}

func newTestWatcher(t *testing.T, client *fakeRPCClient, cp *fakeCheckpointStore, out chan types.IngestRequest) *Watcher {
	w, err := New(Config{
		ProgramID:        testProgramID,
		DestinationChain: "aptos",
	}, client, cp, out, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	return w
}

func TestPollOnce_SavesCheckpointOnlyAfterProcessorAcksPersistence(t *testing.T) {
	logs := []string{encodeEvent(t, sourceEvent{
		SourceChain:    "solana",
		AptosRecipient: "0xrecipient",
		AmountUSDC:     1_000_000,
		Nonce:          7,
		Timestamp:      1_700_000_000,
	})}
	client := &fakeRPCClient{signature: "sig-1", logs: logs}
	cp := &fakeCheckpointStore{}
	out := make(chan types.IngestRequest, 1)
	w := newTestWatcher(t, client, cp, out)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := <-out
		assert.Zero(t, cp.saveCount(), "checkpoint must not be saved before the ack is sent")
		req.Ack <- nil
	}()

	next, err := w.pollOnce(context.Background(), Checkpoint{})
	require.NoError(t, err)
	<-done

	assert.Equal(t, "sig-1", next.LastSignature)
	assert.Equal(t, 1, cp.saveCount())
}

func TestPollOnce_WithholdsCheckpointWhenProcessorAcksFailure(t *testing.T) {
	logs := []string{encodeEvent(t, sourceEvent{
		SourceChain:    "solana",
		AptosRecipient: "0xrecipient",
		AmountUSDC:     1_000_000,
		Nonce:          7,
		Timestamp:      1_700_000_000,
	})}
	client := &fakeRPCClient{signature: "sig-1", logs: logs}
	cp := &fakeCheckpointStore{}
	out := make(chan types.IngestRequest, 1)
	w := newTestWatcher(t, client, cp, out)

	go func() {
		req := <-out
		req.Ack <- errors.New("store unavailable")
	}()

	start := Checkpoint{LastSignature: "sig-0", LastSlot: 0}
	next, err := w.pollOnce(context.Background(), start)
	require.Error(t, err)
	assert.Equal(t, start, next, "checkpoint must be rolled back to its pre-cycle value on ack failure")
	assert.Zero(t, cp.saveCount(), "a failed ack must never be followed by a checkpoint save")
}

func TestPollOnce_DoesNotBlockIndefinitelyWhenAckNeverArrives(t *testing.T) {
	logs := []string{encodeEvent(t, sourceEvent{
		SourceChain:    "solana",
		AptosRecipient: "0xrecipient",
		AmountUSDC:     1_000_000,
		Nonce:          7,
		Timestamp:      1_700_000_000,
	})}
	client := &fakeRPCClient{signature: "sig-1", logs: logs}
	cp := &fakeCheckpointStore{}
	out := make(chan types.IngestRequest, 1)
	w := newTestWatcher(t, client, cp, out)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-out
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := w.pollOnce(ctx, Checkpoint{})
	require.Error(t, err)
	assert.Zero(t, cp.saveCount())
}
