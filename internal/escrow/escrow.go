// Package escrow moves stake money exactly once.
//
// Flow for one bounty:
//  1. Creator posts  → Lock(creator, stake)
//  2. Settlement     → Release(creator, stake), Payout(winner, payout), Payout(platform, fee)
//  3. Cancel/expiry/void → Refund(creator, stake)
//
// Every call carries a deterministic operation key. The manager consults its
// idempotency ledger before touching the wallet: a known key with the same
// amount replays the recorded outcome, a known key with a different amount is
// an integrity violation and refuses to move anything.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalebvo/stakeduel/internal/idempotency"
	"github.com/kalebvo/stakeduel/internal/metrics"
	"github.com/kalebvo/stakeduel/internal/wallet"
)

var (
	// ErrAmountMismatch means an operation key was replayed with a different
	// amount than originally recorded. Nothing is moved; this signals either
	// a caller bug or data corruption and must be investigated.
	ErrAmountMismatch = errors.New("escrow: operation key replayed with different amount")

	// ErrNegativeAvailable means a mutation left an account with
	// available < 0 or pending < 0. The wallet's own guards make this
	// unreachable; seeing it means the wallet is broken.
	ErrNegativeAvailable = errors.New("escrow: mutation left negative balance")
)

// Result is the outcome of one escrow operation.
type Result struct {
	Account  string `json:"account"`
	Op       string `json:"op"`
	Amount   int64  `json:"amount"`
	Replayed bool   `json:"replayed"` // true if served from the idempotency ledger
}

// Manager coordinates wallet mutations with the idempotency ledger.
type Manager struct {
	wallet wallet.Wallet
	ledger idempotency.Store
	logger *slog.Logger
}

// NewManager creates an escrow manager.
func NewManager(w wallet.Wallet, ledger idempotency.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{wallet: w, ledger: ledger, logger: logger}
}

type mutation func(ctx context.Context, account string, amount int64, reason, key string) (wallet.Balance, error)

// apply runs one wallet mutation under the idempotency ledger.
//
// Ledger hit with equal amount: replay, no wallet call. Ledger hit with a
// different amount: ErrAmountMismatch. Ledger miss: run the mutation, then
// record. The wallet dedups by the same key, so a crash between the wallet
// commit and the ledger write is healed on retry: the wallet reports
// ErrAlreadyApplied and we backfill the ledger record.
func (m *Manager) apply(ctx context.Context, op, account, entityID string, amount int64, key, reason string, fn mutation) (Result, error) {
	rec, err := m.ledger.Get(ctx, key)
	if err == nil {
		if rec.Amount != amount {
			metrics.IntegrityViolationsTotal.Inc()
			metrics.EscrowOperationsTotal.WithLabelValues(op, "failed").Inc()
			m.logger.Error("CRITICAL: escrow amount mismatch on replayed key",
				"key", key, "recorded", rec.Amount, "requested", amount)
			return Result{}, fmt.Errorf("%w: key %s recorded %d, requested %d",
				ErrAmountMismatch, key, rec.Amount, amount)
		}
		metrics.EscrowOperationsTotal.WithLabelValues(op, "replayed").Inc()
		return Result{Account: account, Op: op, Amount: amount, Replayed: true}, nil
	}
	if !errors.Is(err, idempotency.ErrNotFound) {
		return Result{}, fmt.Errorf("escrow: read ledger: %w", err)
	}

	replayed := false
	b, err := fn(ctx, account, amount, reason, key)
	if err != nil {
		if !errors.Is(err, wallet.ErrAlreadyApplied) {
			metrics.EscrowOperationsTotal.WithLabelValues(op, "failed").Inc()
			return Result{}, err
		}
		// Wallet applied this key in an earlier attempt that died before the
		// ledger write. Treat as success and backfill below.
		replayed = true
	} else if b.Available() < 0 || b.Pending < 0 {
		metrics.IntegrityViolationsTotal.Inc()
		m.logger.Error("CRITICAL: negative balance after escrow mutation",
			"key", key, "op", op, "account", account,
			"cached", b.Cached, "pending", b.Pending)
		return Result{}, fmt.Errorf("%w: account %s cached=%d pending=%d after %s",
			ErrNegativeAvailable, account, b.Cached, b.Pending, op)
	}

	putErr := m.ledger.Put(ctx, &idempotency.Record{
		Key:       key,
		Operation: op,
		EntityID:  entityID,
		Actor:     account,
		Amount:    amount,
	})
	if putErr != nil && !errors.Is(putErr, idempotency.ErrDuplicateKey) {
		// Funds moved but the ledger write failed. The wallet's own key
		// dedup keeps a retry safe, so log loudly and report the failure.
		m.logger.Error("CRITICAL: escrow funds moved but ledger write failed",
			"key", key, "op", op, "account", account, "amount", amount, "error", putErr)
		metrics.EscrowOperationsTotal.WithLabelValues(op, "failed").Inc()
		return Result{}, fmt.Errorf("escrow: record operation %s: %w", key, putErr)
	}
	if errors.Is(putErr, idempotency.ErrDuplicateKey) {
		// Concurrent attempt won the race. Verify it recorded the same amount.
		if winner, getErr := m.ledger.Get(ctx, key); getErr == nil && winner.Amount != amount {
			metrics.IntegrityViolationsTotal.Inc()
			return Result{}, fmt.Errorf("%w: key %s recorded %d, requested %d",
				ErrAmountMismatch, key, winner.Amount, amount)
		}
		replayed = true
	}

	result := "applied"
	if replayed {
		result = "replayed"
	}
	metrics.EscrowOperationsTotal.WithLabelValues(op, result).Inc()
	return Result{Account: account, Op: op, Amount: amount, Replayed: replayed}, nil
}

// Lock moves amount from the account's available balance into escrow.
// Fails with wallet.ErrInsufficientFunds when available < amount.
func (m *Manager) Lock(ctx context.Context, account, entityID string, amount int64, key, reason string) (Result, error) {
	return m.apply(ctx, "lock", account, entityID, amount, key, reason, m.wallet.Lock)
}

// Refund returns locked funds to the account's available balance.
func (m *Manager) Refund(ctx context.Context, account, entityID string, amount int64, key, reason string) (Result, error) {
	return m.apply(ctx, "refund", account, entityID, amount, key, reason, m.wallet.Unlock)
}

// Release takes locked funds out of the account for good. Settlement calls
// this on the stake holder before paying the winner.
func (m *Manager) Release(ctx context.Context, account, entityID string, amount int64, key, reason string) (Result, error) {
	return m.apply(ctx, "release", account, entityID, amount, key, reason, m.wallet.Collect)
}

// Payout credits amount to the account's available balance.
func (m *Manager) Payout(ctx context.Context, account, entityID string, amount int64, key, reason string) (Result, error) {
	return m.apply(ctx, "payout", account, entityID, amount, key, reason, m.wallet.Credit)
}

// Available returns the account's spendable balance.
func (m *Manager) Available(ctx context.Context, account string) (int64, error) {
	return m.wallet.AvailableBalance(ctx, account)
}

// Balance returns the account's full balance view.
func (m *Manager) Balance(ctx context.Context, account string) (wallet.Balance, error) {
	return m.wallet.GetBalance(ctx, account)
}

// History returns recent journal entries for the account.
func (m *Manager) History(ctx context.Context, account string, limit int) ([]*wallet.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.wallet.History(ctx, account, limit)
}
