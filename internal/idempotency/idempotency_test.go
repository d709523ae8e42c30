package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	require.Equal(t, "bounty_refund:bty_1f2e:expired", Key("bounty_refund", "bty_1f2e", "expired"))
	require.Equal(t, "bounty_release:bty_1", Key("bounty_release", "bty_1"))
}

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	rec := &Record{Key: "k1", Operation: "lock", EntityID: "bty_1", Actor: "alice", Amount: 500}
	require.NoError(t, st.Put(ctx, rec))

	got, err := st.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "lock", got.Operation)
	require.Equal(t, int64(500), got.Amount)
	require.False(t, got.CreatedAt.IsZero(), "CreatedAt filled on insert")

	_, err = st.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	require.NoError(t, st.Put(ctx, &Record{Key: "k1", Operation: "lock", Amount: 500}))
	err := st.Put(ctx, &Record{Key: "k1", Operation: "lock", Amount: 999})
	require.ErrorIs(t, err, ErrDuplicateKey)

	// Delete releases the key for a later Put; missing keys are fine.
	require.NoError(t, st.Delete(ctx, "k1"))
	require.NoError(t, st.Delete(ctx, "k1"))
	require.NoError(t, st.Put(ctx, &Record{Key: "k1", Operation: "lock", Amount: 999}))

	got, err := st.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(999), got.Amount)

	got, err = st.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(500), got.Amount, "first write wins")
}

func TestMemoryStore_Prune(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	now := time.Now()

	require.NoError(t, st.Put(ctx, &Record{Key: "old", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, st.Put(ctx, &Record{Key: "fresh", CreatedAt: now}))

	n, err := st.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = st.Get(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.Get(ctx, "fresh")
	require.NoError(t, err)
}
