package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryWallet_BalanceSemantics(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	w.Seed("alice", 1000)

	b, err := w.Lock(ctx, "alice", 400, "stake", "k1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), b.Cached)
	require.Equal(t, int64(400), b.Pending)
	require.Equal(t, int64(600), b.Available())

	// Collect removes from both counters: the locked funds leave for good.
	b, err = w.Collect(ctx, "alice", 400, "settled", "k2")
	require.NoError(t, err)
	require.Equal(t, int64(600), b.Cached)
	require.Equal(t, int64(0), b.Pending)

	b, err = w.Credit(ctx, "alice", 100, "winnings", "k3")
	require.NoError(t, err)
	require.Equal(t, int64(700), b.Cached)
}

func TestMemoryWallet_LockUnlockIsNet_Zero(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	w.Seed("bob", 500)

	_, err := w.Lock(ctx, "bob", 500, "stake", "lk")
	require.NoError(t, err)

	b, err := w.Unlock(ctx, "bob", 500, "refund", "uk")
	require.NoError(t, err)
	require.Equal(t, int64(500), b.Cached)
	require.Equal(t, int64(0), b.Pending)
	require.Equal(t, int64(500), b.Available())
}

func TestMemoryWallet_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	w.Seed("carol", 100)

	_, err := w.Lock(ctx, "carol", 200, "stake", "k1")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Locked funds are not spendable.
	_, err = w.Lock(ctx, "carol", 100, "stake", "k2")
	require.NoError(t, err)
	_, err = w.Debit(ctx, "carol", 1, "spend", "k3")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Failed mutations leave the balance untouched.
	b, err := w.GetBalance(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, int64(100), b.Cached)
	require.Equal(t, int64(100), b.Pending)
}

func TestMemoryWallet_KeyDedup(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	w.Seed("dave", 1000)

	_, err := w.Lock(ctx, "dave", 300, "stake", "same-key")
	require.NoError(t, err)

	_, err = w.Lock(ctx, "dave", 300, "stake", "same-key")
	require.ErrorIs(t, err, ErrAlreadyApplied)

	b, _ := w.GetBalance(ctx, "dave")
	require.Equal(t, int64(300), b.Pending, "replay must not move funds twice")
}

func TestMemoryWallet_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()

	_, err := w.Credit(ctx, "eve", 0, "", "k")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = w.Credit(ctx, "eve", -5, "", "k")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMemoryWallet_History(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	w.Seed("frank", 1000)

	_, _ = w.Lock(ctx, "frank", 100, "stake", "h1")
	_, _ = w.Unlock(ctx, "frank", 100, "refund", "h2")
	_, _ = w.Credit(ctx, "other", 50, "", "h3")

	entries, err := w.History(ctx, "frank", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "unlock", entries[0].Op, "newest first")
	require.Equal(t, "h2", entries[0].Reference)
}
