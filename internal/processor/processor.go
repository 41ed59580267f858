// Package processor implements C5, the settlement processor: the
// orchestrator and the locus of all concurrency discipline (spec §4.5,
// §5). Concurrency primitives are grounded on golang.org/x/sync, present as
// an indirect dependency of the teacher's own go.mod and of
// DanDo385-solidity-edu's; no single teacher file matches this orchestrator
// shape, so the state machine itself is built directly from spec §4.5/§4.6
// rather than adapted from one source file.
package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/arcsign/internal/executor"
	"github.com/yourusername/arcsign/internal/metrics"
	"github.com/yourusername/arcsign/internal/signer"
	"github.com/yourusername/arcsign/internal/store"
	"github.com/yourusername/arcsign/internal/types"
)

// Config mirrors spec §6 processing.* keys.
type Config struct {
	MaxConcurrentSettlements int64
	RetryAttempts            int
	RetryDelay               time.Duration
	IntentTTL                time.Duration
	ConfirmDeadline          time.Duration
	ExpirySweepInterval      time.Duration
}

// Processor is the orchestrator described in spec §4.5.
type Processor struct {
	cfg     Config
	store   store.Store
	signer  *signer.Signer
	exec    *executor.Executor
	metrics *metrics.Metrics
	log     *logrus.Entry

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inFlight atomic.Int64

	onSettled func(time.Time)
}

// New constructs a Processor.
func New(cfg Config, st store.Store, sgn *signer.Signer, exec *executor.Executor, m *metrics.Metrics, log *logrus.Entry) *Processor {
	if cfg.ConfirmDeadline == 0 {
		cfg.ConfirmDeadline = 60 * time.Second
	}
	if cfg.ExpirySweepInterval == 0 {
		cfg.ExpirySweepInterval = 30 * time.Second
	}

	return &Processor{
		cfg:     cfg,
		store:   st,
		signer:  sgn,
		exec:    exec,
		metrics: m,
		log:     log,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentSettlements),
	}
}

// OnSettled registers a callback invoked with the current time whenever a
// settlement reaches a terminal state (completed, failed, or expired), so
// the monitor's /api/v1/status can report the last settlement time (spec
// §4.6). It must be called before Run starts processing.
func (p *Processor) OnSettled(f func(time.Time)) {
	p.onSettled = f
}

func (p *Processor) noteSettled() {
	if p.onSettled != nil {
		p.onSettled(time.Now())
	}
}

// Run drains in from the watcher until ctx is cancelled, recovering
// non-terminal records at startup and periodically sweeping expired ones.
// It blocks until every settlement it started (including retries scheduled
// after Run begins shutting down) has returned, so the caller can rely on
// Run's return to mean "no settlement is still mutating the store" (spec
// §5's shutdown drain guarantee).
func (p *Processor) Run(ctx context.Context, in <-chan types.IngestRequest) error {
	if err := p.recoverNonTerminal(ctx); err != nil {
		return err
	}

	sweepDone := make(chan struct{})
	go func() {
		p.sweepLoop(ctx)
		close(sweepDone)
	}()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			<-sweepDone
			return nil

		case ingest, ok := <-in:
			if !ok {
				p.wg.Wait()
				<-sweepDone
				return nil
			}

			req := ingest.Request

			if req.SourceTxHash == "" {
				err := types.NewMalformedError("empty source_tx_hash rejected at ingest", nil)
				p.log.WithError(err).Warn("rejected ingest with empty source_tx_hash")
				ingest.Ack <- err
				continue
			}

			result, err := p.store.PutIfAbsent(req)
			if err != nil {
				p.log.WithError(err).WithField("source_tx_hash", req.SourceTxHash).Error("failed to persist ingested settlement")
				ingest.Ack <- err
				continue
			}
			if result == store.AlreadyExists {
				p.log.WithField("source_tx_hash", req.SourceTxHash).Debug("duplicate settlement ingest, dropping")
				ingest.Ack <- nil
				continue
			}

			ingest.Ack <- nil
			p.spawnSettle(ctx, req.SourceTxHash)
		}
	}
}

// spawnSettle launches settle in its own goroutine, tracked by the
// processor's WaitGroup and in-flight gauge so Run's shutdown drain and
// C6's settlements_in_flight metric both account for it.
func (p *Processor) spawnSettle(ctx context.Context, sourceTxHash string) {
	p.wg.Add(1)
	p.metrics.SetInFlight(int(p.inFlight.Add(1)))

	go func() {
		defer p.wg.Done()
		defer p.metrics.SetInFlight(int(p.inFlight.Add(-1)))
		p.settle(ctx, sourceTxHash)
	}()
}

// recoverNonTerminal re-enqueues every non-terminal record at startup, in
// created_at order, per spec §4.5's crash recovery contract.
func (p *Processor) recoverNonTerminal(ctx context.Context) error {
	for _, status := range []types.Status{types.StatusPending, types.StatusSigning, types.StatusSubmitting, types.StatusAwaiting} {
		records, err := p.store.ListByStatus(status, 0)
		if err != nil {
			return err
		}
		for _, rec := range records {
			hash := rec.Request.SourceTxHash
			p.log.WithField("source_tx_hash", hash).WithField("status", status).Info("resuming non-terminal settlement after restart")
			p.spawnSettle(ctx, hash)
		}
	}
	return nil
}

// settle drives one record through the state machine in spec §4.5 from its
// current status through to a terminal one, or until ctx is cancelled.
func (p *Processor) settle(ctx context.Context, sourceTxHash string) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	rec, err := p.store.Get(sourceTxHash)
	if err != nil {
		p.log.WithError(err).WithField("source_tx_hash", sourceTxHash).Error("failed to load record for settlement")
		return
	}

	started := rec.State.CreatedAt

	for {
		if rec.State.Status.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		switch rec.State.Status {
		case types.StatusPending, types.StatusSigning:
			rec.State, err = p.transition(sourceTxHash, func(s types.SettlementState) types.SettlementState {
				s.Status = types.StatusSigning
				return s
			})
			if err != nil {
				return
			}

			rec.State, err = p.transition(sourceTxHash, func(s types.SettlementState) types.SettlementState {
				s.Status = types.StatusSubmitting
				return s
			})
			if err != nil {
				return
			}

		case types.StatusSubmitting:
			// Signing is a pure, deterministic function of the stored request
			// (see signer.Sign's canonical encoding), so it is safe to redo on
			// every submit attempt, including the first one after a crash
			// recovery resumes a record that was already in StatusSubmitting.
			intent, err := p.signer.Sign(rec.Request, uint64(p.cfg.IntentTTL.Seconds()))
			if err != nil {
				p.fail(sourceTxHash, started, err.Error())
				return
			}

			rec.State, err = p.transition(sourceTxHash, func(s types.SettlementState) types.SettlementState {
				s.Attempts++
				return s
			})
			if err != nil {
				return
			}

			submitResult, err := p.exec.Submit(ctx, intent)
			if err != nil {
				p.retryOrFail(sourceTxHash, started, rec.State, err.Error())
				return
			}

			switch submitResult.Outcome {
			case executor.Accepted:
				rec.State, err = p.transition(sourceTxHash, func(s types.SettlementState) types.SettlementState {
					s.Status = types.StatusAwaiting
					s.DestinationTxHash = submitResult.DestinationTxHash
					return s
				})
				if err != nil {
					return
				}
			case executor.Rejected:
				p.retryOrFail(sourceTxHash, started, rec.State, submitResult.Reason)
				return
			case executor.TransportError:
				p.retryOrFail(sourceTxHash, started, rec.State, submitResult.Reason)
				return
			}

		case types.StatusAwaiting:
			confirmResult, err := p.exec.Confirm(ctx, rec.State.DestinationTxHash, time.Now().Add(p.cfg.ConfirmDeadline))
			if err != nil {
				p.retryOrFail(sourceTxHash, started, rec.State, err.Error())
				return
			}

			switch confirmResult.Outcome {
			case executor.Confirmed:
				p.complete(sourceTxHash, started)
				return
			default:
				p.retryOrFail(sourceTxHash, started, rec.State, confirmResult.Reason)
				return
			}
		}
	}
}

func (p *Processor) transition(sourceTxHash string, f store.UpdateFunc) (types.SettlementState, error) {
	result, state, err := p.store.UpdateState(sourceTxHash, nil, f)
	if err != nil {
		return types.SettlementState{}, err
	}
	if result != store.Updated {
		return types.SettlementState{}, types.NewStoreError("unexpected update result", nil)
	}
	return state, nil
}

// retryOrFail implements step 6 of spec §4.5: retry with exponential
// backoff while attempts < max_attempts, else terminal Failed.
func (p *Processor) retryOrFail(sourceTxHash string, started time.Time, state types.SettlementState, reason string) {
	if state.Attempts < p.cfg.RetryAttempts {
		delay := p.cfg.RetryDelay * time.Duration(1<<uint(state.Attempts-1))
		maxDelay := 10 * p.cfg.RetryDelay
		if delay > maxDelay {
			delay = maxDelay
		}

		p.log.WithField("source_tx_hash", sourceTxHash).WithField("attempt", state.Attempts).WithField("delay", delay).Warn("settlement attempt failed, retrying")

		_, _, err := p.store.UpdateState(sourceTxHash, nil, func(s types.SettlementState) types.SettlementState {
			s.LastError = reason
			s.Status = types.StatusSubmitting
			return s
		})
		if err != nil {
			p.log.WithError(err).WithField("source_tx_hash", sourceTxHash).Error("failed to persist retry state")
			return
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			time.Sleep(delay)
			p.spawnSettle(context.Background(), sourceTxHash)
		}()
		return
	}

	p.fail(sourceTxHash, started, reason)
}

func (p *Processor) fail(sourceTxHash string, started time.Time, reason string) {
	_, _, err := p.store.UpdateState(sourceTxHash, nil, func(s types.SettlementState) types.SettlementState {
		s.Status = types.StatusFailed
		s.LastError = reason
		return s
	})
	if err != nil {
		p.log.WithError(err).WithField("source_tx_hash", sourceTxHash).Error("failed to persist failed state")
		return
	}
	p.metrics.RecordFailure(time.Since(started))
	p.log.WithField("source_tx_hash", sourceTxHash).WithField("reason", reason).Error("settlement failed permanently")
	p.noteSettled()
}

func (p *Processor) complete(sourceTxHash string, started time.Time) {
	_, _, err := p.store.UpdateState(sourceTxHash, nil, func(s types.SettlementState) types.SettlementState {
		s.Status = types.StatusCompleted
		return s
	})
	if err != nil {
		p.log.WithError(err).WithField("source_tx_hash", sourceTxHash).Error("failed to persist completed state")
		return
	}
	p.metrics.RecordSuccess(time.Since(started))
	p.log.WithField("source_tx_hash", sourceTxHash).Info("settlement completed")
	p.noteSettled()
}

// sweepLoop runs the periodic expiry sweep described in spec §4.5 step 7
// until ctx is cancelled.
func (p *Processor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepExpired()
			p.refreshPendingGauge()
		}
	}
}

func (p *Processor) sweepExpired() {
	now := time.Now()

	for _, status := range []types.Status{types.StatusPending, types.StatusSigning, types.StatusSubmitting, types.StatusAwaiting} {
		records, err := p.store.ListByStatus(status, 0)
		if err != nil {
			p.log.WithError(err).Error("expiry sweep failed to list records")
			continue
		}

		for _, rec := range records {
			expiry := time.Unix(int64(rec.Request.SourceTimestamp), 0).Add(p.cfg.IntentTTL)
			if now.Before(expiry) {
				continue
			}

			_, _, err := p.store.UpdateState(rec.Request.SourceTxHash, nil, func(s types.SettlementState) types.SettlementState {
				s.Status = types.StatusExpired
				return s
			})
			if err != nil {
				p.log.WithError(err).WithField("source_tx_hash", rec.Request.SourceTxHash).Error("failed to expire settlement")
				continue
			}
			p.metrics.RecordFailure(now.Sub(rec.State.CreatedAt))
			p.log.WithField("source_tx_hash", rec.Request.SourceTxHash).Warn("settlement expired")
			p.noteSettled()
		}
	}
}

func (p *Processor) refreshPendingGauge() {
	counts, err := p.store.CountByStatus()
	if err != nil {
		return
	}

	pending := 0
	for _, status := range []types.Status{types.StatusPending, types.StatusSigning, types.StatusSubmitting, types.StatusAwaiting} {
		pending += counts[status]
	}
	p.metrics.SetPending(pending)
}
