// Package wallet defines the balance contract the bounty engine requires
// from the platform wallet, plus reference implementations.
//
// A wallet account tracks two counters:
//
//	cached  — funds the account owns
//	pending — funds locked under escrow
//
// available = cached - pending. Every mutation is guarded so that available
// never goes negative; a violation is a bug in the caller, not a user error.
//
// All mutating calls carry an idempotency key. Replaying a key returns
// ErrAlreadyApplied instead of moving funds twice; callers treat that as
// success and fetch the balance if they need it.
package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("wallet: insufficient available balance")
	ErrAlreadyApplied    = errors.New("wallet: operation already applied")
	ErrAccountNotFound   = errors.New("wallet: account not found")
	ErrInvalidAmount     = errors.New("wallet: amount must be positive")
)

// Balance is a point-in-time view of one account. Amounts are integer
// minor units (cents).
type Balance struct {
	Account   string    `json:"account"`
	Cached    int64     `json:"cachedBalance"`
	Pending   int64     `json:"pendingBalance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Available is the spendable portion of the balance.
func (b Balance) Available() int64 {
	return b.Cached - b.Pending
}

// Entry is one row of the wallet journal.
type Entry struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Op        string    `json:"op"` // credit, debit, lock, unlock, collect
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Reference string    `json:"reference,omitempty"` // idempotency key of the mutation
	CreatedAt time.Time `json:"createdAt"`
}

// Wallet is the contract consumed by the escrow manager. Implementations
// must apply each mutation, its journal entry, and its idempotency marker
// atomically: a crash can never leave funds moved without a record.
type Wallet interface {
	// Credit adds amount to the account's cached balance.
	Credit(ctx context.Context, account string, amount int64, reason, key string) (Balance, error)

	// Debit removes amount from the cached balance. Fails with
	// ErrInsufficientFunds if available < amount.
	Debit(ctx context.Context, account string, amount int64, reason, key string) (Balance, error)

	// Lock moves amount from available into pending. Fails with
	// ErrInsufficientFunds if available < amount.
	Lock(ctx context.Context, account string, amount int64, reason, key string) (Balance, error)

	// Unlock returns amount from pending to available. Cached is untouched,
	// so the net effect of Lock+Unlock is zero.
	Unlock(ctx context.Context, account string, amount int64, reason, key string) (Balance, error)

	// Collect removes amount from both pending and cached: locked funds
	// leave the account for good. Must be paired with a prior Lock.
	Collect(ctx context.Context, account string, amount int64, reason, key string) (Balance, error)

	// AvailableBalance returns cached - pending for the account. Unknown
	// accounts report zero rather than an error.
	AvailableBalance(ctx context.Context, account string) (int64, error)

	// GetBalance returns the full balance view for the account.
	GetBalance(ctx context.Context, account string) (Balance, error)

	// History returns the most recent journal entries for the account.
	History(ctx context.Context, account string, limit int) ([]*Entry, error)
}
