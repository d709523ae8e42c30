package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalebvo/stakeduel/internal/idempotency"
	"github.com/kalebvo/stakeduel/internal/logging"
	"github.com/kalebvo/stakeduel/internal/wallet"
)

func newManager(t *testing.T) (*Manager, *wallet.MemoryWallet, *idempotency.MemoryStore) {
	t.Helper()
	w := wallet.NewMemoryWallet()
	led := idempotency.NewMemoryStore()
	return NewManager(w, led, logging.Discard()), w, led
}

func TestLock_AppliesAndRecords(t *testing.T) {
	ctx := context.Background()
	m, w, led := newManager(t)
	w.Seed("alice", 1000)

	res, err := m.Lock(ctx, "alice", "bty_1", 500, "bounty_lock:bty_1:alice", "stake")
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.Equal(t, int64(500), res.Amount)

	b, _ := w.GetBalance(ctx, "alice")
	require.Equal(t, int64(500), b.Pending)

	rec, err := led.Get(ctx, "bounty_lock:bty_1:alice")
	require.NoError(t, err)
	require.Equal(t, "lock", rec.Operation)
	require.Equal(t, "bty_1", rec.EntityID)
	require.Equal(t, int64(500), rec.Amount)
}

func TestLock_ReplaySameAmount(t *testing.T) {
	ctx := context.Background()
	m, w, _ := newManager(t)
	w.Seed("alice", 1000)

	_, err := m.Lock(ctx, "alice", "bty_1", 500, "k", "stake")
	require.NoError(t, err)

	res, err := m.Lock(ctx, "alice", "bty_1", 500, "k", "stake")
	require.NoError(t, err)
	require.True(t, res.Replayed)

	b, _ := w.GetBalance(ctx, "alice")
	require.Equal(t, int64(500), b.Pending, "replay must not lock twice")
}

func TestLock_AmountMismatchRefuses(t *testing.T) {
	ctx := context.Background()
	m, w, _ := newManager(t)
	w.Seed("alice", 1000)

	_, err := m.Lock(ctx, "alice", "bty_1", 500, "k", "stake")
	require.NoError(t, err)

	_, err = m.Lock(ctx, "alice", "bty_1", 600, "k", "stake")
	require.ErrorIs(t, err, ErrAmountMismatch)

	b, _ := w.GetBalance(ctx, "alice")
	require.Equal(t, int64(500), b.Pending, "mismatch must not move anything")
}

func TestLock_InsufficientFundsPassesThrough(t *testing.T) {
	ctx := context.Background()
	m, _, led := newManager(t)

	_, err := m.Lock(ctx, "broke", "bty_1", 500, "k", "stake")
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	_, err = led.Get(ctx, "k")
	require.ErrorIs(t, err, idempotency.ErrNotFound, "failed mutations leave no record")
}

func TestApply_BackfillsAfterCrash(t *testing.T) {
	ctx := context.Background()
	m, w, led := newManager(t)
	w.Seed("alice", 1000)

	// Simulate a crash between the wallet commit and the ledger write: the
	// wallet has consumed the key but no record exists.
	_, err := w.Lock(ctx, "alice", 500, "stake", "k")
	require.NoError(t, err)

	res, err := m.Lock(ctx, "alice", "bty_1", 500, "k", "stake")
	require.NoError(t, err)
	require.True(t, res.Replayed)

	rec, err := led.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(500), rec.Amount, "ledger backfilled on retry")

	b, _ := w.GetBalance(ctx, "alice")
	require.Equal(t, int64(500), b.Pending)
}

func TestSettlementRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, w, _ := newManager(t)
	w.Seed("alice", 1000)

	_, err := m.Lock(ctx, "alice", "bty_1", 500, "lock", "stake")
	require.NoError(t, err)
	_, err = m.Release(ctx, "alice", "bty_1", 500, "release", "settled")
	require.NoError(t, err)
	_, err = m.Payout(ctx, "bob", "bty_1", 475, "payout", "winnings")
	require.NoError(t, err)
	_, err = m.Payout(ctx, "platform", "bty_1", 25, "fee", "platform fee")
	require.NoError(t, err)

	alice, _ := w.GetBalance(ctx, "alice")
	require.Equal(t, int64(500), alice.Cached)
	require.Equal(t, int64(0), alice.Pending)

	bob, _ := w.GetBalance(ctx, "bob")
	require.Equal(t, int64(475), bob.Cached)

	platform, _ := w.GetBalance(ctx, "platform")
	require.Equal(t, int64(25), platform.Cached)
}

func TestRefund_RestoresAvailable(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	mw := m.wallet.(*wallet.MemoryWallet)
	mw.Seed("alice", 1000)

	_, err := m.Lock(ctx, "alice", "bty_1", 500, "lock", "stake")
	require.NoError(t, err)

	avail, err := m.Available(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(500), avail)

	_, err = m.Refund(ctx, "alice", "bty_1", 500, "refund", "cancelled")
	require.NoError(t, err)

	avail, err = m.Available(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1000), avail)
}

func TestHistory_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	m, w, _ := newManager(t)
	w.Seed("alice", 1000)

	for i := 0; i < 3; i++ {
		_, err := m.Payout(ctx, "alice", "bty_1", 10, idempotency.Key("p", string(rune('a'+i))), "test")
		require.NoError(t, err)
	}

	entries, err := m.History(ctx, "alice", -1)
	require.NoError(t, err)
	require.Len(t, entries, 3, "non-positive limit falls back to the default")

	entries, err = m.History(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
