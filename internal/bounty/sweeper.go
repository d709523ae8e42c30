package bounty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kalebvo/stakeduel/internal/idempotency"
	"github.com/kalebvo/stakeduel/internal/metrics"
)

// SweepResult summarizes one sweeper pass.
type SweepResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Sweeper periodically expires stale OPEN bounties, settles PENDING_RESULT
// bounties whose dispute window elapsed, and prunes old idempotency records.
// Multiple sweepers may run concurrently: the per-bounty lock plus the
// refund idempotency keys guarantee at most one refund per bounty.
type Sweeper struct {
	service   *Service
	store     Store
	ledger    idempotency.Store
	interval  time.Duration
	batchSize int
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
	stop      chan struct{}
	running   atomic.Bool
}

// NewSweeper creates an expiry sweeper.
func NewSweeper(service *Service, store Store, ledger idempotency.Store, interval time.Duration, batchSize int, retention time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		service:   service,
		store:     store,
		ledger:    ledger,
		interval:  interval,
		batchSize: batchSize,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// WithClock overrides the clock for deterministic tests.
func (sw *Sweeper) WithClock(now func() time.Time) *Sweeper {
	sw.now = now
	return sw
}

// Running reports whether the sweep loop is actively running.
func (sw *Sweeper) Running() bool {
	return sw.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.running.Store(true)
	defer sw.running.Store(false)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (sw *Sweeper) Stop() {
	select {
	case sw.stop <- struct{}{}:
	default:
	}
}

func (sw *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.Error("panic in bounty sweeper", "panic", fmt.Sprint(r))
			metrics.SweepRunsTotal.WithLabelValues("panic").Inc()
		}
	}()

	timer := time.Now()
	result, err := sw.SweepOnce(ctx)
	metrics.SweepDuration.Observe(time.Since(timer).Seconds())
	if err != nil {
		sw.logger.Warn("sweep failed", "error", err)
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	if result.Processed > 0 || result.Failed > 0 {
		sw.logger.Info("sweep complete",
			"processed", result.Processed, "skipped", result.Skipped, "failed", result.Failed)
	}

	sw.settleElapsed(ctx)
	sw.pruneLedger(ctx)
}

// SweepOnce expires one batch of eligible bounties through the same Expire
// entry point interactive callers use. A single bounty's failure never
// aborts the batch; it is retried on the next sweep.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	now := sw.now()
	cutoff := now.Add(-sw.service.settings.ExpiryGrace)

	candidates, err := sw.store.ListExpired(ctx, cutoff, sw.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired bounties: %w", err)
	}

	var result SweepResult
	for _, b := range candidates {
		_, err := sw.service.Expire(ctx, b.ID)
		switch {
		case err == nil:
			result.Processed++
			metrics.SweepBountiesTotal.WithLabelValues("expired").Inc()
			sw.logger.Info("expired bounty",
				"bounty", b.ID, "creator", b.Creator, "stake", b.StakeAmount)
		case errors.Is(err, ErrInvalidTransition):
			// A concurrent accept, cancel, or sweeper got there first.
			result.Skipped++
			metrics.SweepBountiesTotal.WithLabelValues("skipped").Inc()
		default:
			result.Failed++
			metrics.SweepBountiesTotal.WithLabelValues("failed").Inc()
			sw.logger.Warn("failed to expire bounty", "bounty", b.ID, "error", err)
		}
	}
	return result, nil
}

// settleElapsed completes PENDING_RESULT bounties whose dispute window
// elapsed with no open dispute.
func (sw *Sweeper) settleElapsed(ctx context.Context) {
	now := sw.now()
	cutoff := now.Add(-sw.service.settings.DisputeWindow)

	candidates, err := sw.store.ListSettleable(ctx, cutoff, sw.batchSize)
	if err != nil {
		sw.logger.Warn("failed to list settleable bounties", "error", err)
		return
	}

	for _, b := range candidates {
		if _, err := sw.service.Complete(ctx, b.ID, ""); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrDisputeWindowOpen) {
				metrics.SweepBountiesTotal.WithLabelValues("skipped").Inc()
				continue
			}
			metrics.SweepBountiesTotal.WithLabelValues("failed").Inc()
			sw.logger.Warn("failed to settle bounty", "bounty", b.ID, "error", err)
			continue
		}
		metrics.SweepBountiesTotal.WithLabelValues("completed").Inc()
		sw.logger.Info("settled bounty after dispute window", "bounty", b.ID, "winner", b.Winner)
	}
}

// pruneLedger deletes idempotency records past the retention window. Age is
// the only criterion: a bounty still non-terminal after the retention window
// (a long-lived dispute) loses its records here, and the wallet's own per-key
// journal then carries the duplicate guard alone. Retention must sit well
// above the longest dispute lifetime.
func (sw *Sweeper) pruneLedger(ctx context.Context) {
	if sw.retention <= 0 {
		return
	}
	n, err := sw.ledger.Prune(ctx, sw.now().Add(-sw.retention))
	if err != nil {
		sw.logger.Warn("failed to prune idempotency records", "error", err)
		return
	}
	if n > 0 {
		sw.logger.Info("pruned idempotency records", "count", n)
	}
}
