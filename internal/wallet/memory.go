package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/kalebvo/stakeduel/internal/idgen"
)

// MemoryWallet is an in-memory wallet for demo/development mode and tests.
type MemoryWallet struct {
	mu       sync.Mutex
	accounts map[string]*Balance
	entries  []*Entry
	applied  map[string]bool // idempotency keys already processed
}

// NewMemoryWallet creates an empty in-memory wallet.
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{
		accounts: make(map[string]*Balance),
		applied:  make(map[string]bool),
	}
}

// Seed sets an account's cached balance directly. Test/dev helper.
func (m *MemoryWallet) Seed(account string, cached int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account] = &Balance{Account: account, Cached: cached, UpdatedAt: time.Now()}
}

func (m *MemoryWallet) account(name string) *Balance {
	b, ok := m.accounts[name]
	if !ok {
		b = &Balance{Account: name}
		m.accounts[name] = b
	}
	return b
}

// mutate applies fn to the account under the wallet lock, guarded by the
// idempotency key and the available >= 0 invariant.
func (m *MemoryWallet) mutate(account string, amount int64, op, reason, key string, fn func(*Balance)) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if key != "" && m.applied[key] {
		return Balance{}, ErrAlreadyApplied
	}

	b := m.account(account)
	trial := *b
	fn(&trial)
	if trial.Available() < 0 || trial.Pending < 0 {
		return Balance{}, ErrInsufficientFunds
	}

	trial.UpdatedAt = time.Now()
	*b = trial
	if key != "" {
		m.applied[key] = true
	}
	m.entries = append(m.entries, &Entry{
		ID:        idgen.WithPrefix("wle_"),
		Account:   account,
		Op:        op,
		Amount:    amount,
		Reason:    reason,
		Reference: key,
		CreatedAt: trial.UpdatedAt,
	})
	return *b, nil
}

func (m *MemoryWallet) Credit(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return m.mutate(account, amount, "credit", reason, key, func(b *Balance) {
		b.Cached += amount
	})
}

func (m *MemoryWallet) Debit(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return m.mutate(account, amount, "debit", reason, key, func(b *Balance) {
		b.Cached -= amount
	})
}

func (m *MemoryWallet) Lock(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return m.mutate(account, amount, "lock", reason, key, func(b *Balance) {
		b.Pending += amount
	})
}

func (m *MemoryWallet) Unlock(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return m.mutate(account, amount, "unlock", reason, key, func(b *Balance) {
		b.Pending -= amount
	})
}

func (m *MemoryWallet) Collect(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return m.mutate(account, amount, "collect", reason, key, func(b *Balance) {
		b.Pending -= amount
		b.Cached -= amount
	})
}

func (m *MemoryWallet) AvailableBalance(ctx context.Context, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.accounts[account]; ok {
		return b.Available(), nil
	}
	return 0, nil
}

func (m *MemoryWallet) GetBalance(ctx context.Context, account string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.accounts[account]; ok {
		return *b, nil
	}
	return Balance{Account: account}, nil
}

func (m *MemoryWallet) History(ctx context.Context, account string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Account == account {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryWallet implements Wallet.
var _ Wallet = (*MemoryWallet)(nil)
