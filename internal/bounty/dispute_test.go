package bounty

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const disputeReason = "the replay shows the opposite result at 12:04"

func TestRaiseDispute_BlocksCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.pendingBounty(t)

	d, err := f.service.RaiseDispute(ctx, b.ID, "alice", disputeReason)
	require.NoError(t, err)
	require.Equal(t, DecisionUnresolved, d.Decision)
	require.Equal(t, "alice", d.Disputer)

	b, err = f.service.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDisputed, b.Status)

	// Even past the window, a disputed bounty never auto-settles.
	f.clock.Advance(48 * time.Hour)
	_, err = f.service.Complete(ctx, b.ID, "bob")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRaiseDispute_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("short reason", func(t *testing.T) {
		f := newFixture(t)
		b := f.pendingBounty(t)
		_, err := f.service.RaiseDispute(ctx, b.ID, "alice", "unfair")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("window closed", func(t *testing.T) {
		f := newFixture(t)
		b := f.pendingBounty(t)
		f.clock.Advance(24 * time.Hour)
		_, err := f.service.RaiseDispute(ctx, b.ID, "alice", disputeReason)
		require.ErrorIs(t, err, ErrDisputeWindowClosed)
	})

	t.Run("non participant", func(t *testing.T) {
		f := newFixture(t)
		b := f.pendingBounty(t)
		_, err := f.service.RaiseDispute(ctx, b.ID, "mallory", disputeReason)
		require.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("wrong status", func(t *testing.T) {
		f := newFixture(t)
		b := f.openBounty(t, "alice")
		_, err := f.service.RaiseDispute(ctx, b.ID, "alice", disputeReason)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("only once", func(t *testing.T) {
		f := newFixture(t)
		b := f.pendingBounty(t)
		_, err := f.service.RaiseDispute(ctx, b.ID, "alice", disputeReason)
		require.NoError(t, err)
		_, err = f.service.RaiseDispute(ctx, b.ID, "bob", disputeReason)
		require.ErrorIs(t, err, ErrDisputeExists)
	})
}

// disputedBounty drives alice vs bob to DISPUTED with bob as claimed winner.
func disputedBounty(t *testing.T, f *fixture) *Bounty {
	t.Helper()
	b := f.pendingBounty(t)
	_, err := f.service.RaiseDispute(context.Background(), b.ID, "alice", disputeReason)
	require.NoError(t, err)
	return b
}

func TestResolveDispute_Confirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := disputedBounty(t, f)

	b, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", DecisionConfirm, "replay verified")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, b.Status)
	require.Equal(t, "bob", b.Winner)
	require.Equal(t, int64(475), b.PayoutAmount)

	require.Equal(t, int64(500), f.balance(t, "alice").Cached)
	require.Equal(t, int64(475), f.balance(t, "bob").Cached)
	require.Equal(t, int64(25), f.balance(t, "platform").Cached)

	d, err := f.store.GetDispute(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, DecisionConfirm, d.Decision)
	require.Equal(t, "arbiter-1", d.AssignedArbiter)
	require.Equal(t, "replay verified", d.ResolutionNotes)
	require.NotNil(t, d.ResolvedAt)
}

func TestResolveDispute_Reverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := disputedBounty(t, f)

	b, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", DecisionReverse, "claim was false")
	require.NoError(t, err)
	require.Equal(t, "alice", b.Winner, "ruling pays the other participant")

	// Creator: 1000 seed, 500 collected, 475 won back.
	alice := f.balance(t, "alice")
	require.Equal(t, int64(975), alice.Cached)
	require.Equal(t, int64(0), alice.Pending)
	require.Equal(t, int64(0), f.balance(t, "bob").Cached)
	require.Equal(t, int64(25), f.balance(t, "platform").Cached)
}

func TestResolveDispute_Void(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := disputedBounty(t, f)

	b, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", DecisionVoid, "no usable evidence")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, b.Status)
	require.Empty(t, b.Winner, "a voided bounty has no winner")
	require.Equal(t, int64(0), b.PayoutAmount)

	alice := f.balance(t, "alice")
	require.Equal(t, int64(1000), alice.Cached, "stake refunded in full")
	require.Equal(t, int64(0), alice.Pending)
	require.Equal(t, int64(0), f.balance(t, "platform").Cached, "no fee on void")
}

func TestResolveDispute_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("missing arbiter", func(t *testing.T) {
		f := newFixture(t)
		b := disputedBounty(t, f)
		_, err := f.service.ResolveDispute(ctx, b.ID, "", DecisionConfirm, "")
		require.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("unknown decision", func(t *testing.T) {
		f := newFixture(t)
		b := disputedBounty(t, f)
		_, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", Decision("SPLIT"), "")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("not disputed", func(t *testing.T) {
		f := newFixture(t)
		b := f.pendingBounty(t)
		_, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", DecisionConfirm, "")
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("double resolve", func(t *testing.T) {
		f := newFixture(t)
		b := disputedBounty(t, f)
		_, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", DecisionConfirm, "")
		require.NoError(t, err)
		_, err = f.service.ResolveDispute(ctx, b.ID, "arbiter-2", DecisionReverse, "")
		require.ErrorIs(t, err, ErrInvalidTransition)
		require.Equal(t, int64(475), f.balance(t, "bob").Cached, "ruling is one-shot")
	})
}

func TestUnresolvedDisputeRecordBlocksComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.pendingBounty(t)

	// A raise that crashed after the dispute insert but before the bounty
	// update leaves the status at PENDING_RESULT. The record still blocks.
	err := f.store.CreateDispute(ctx, &Dispute{
		ID: "dsp_orphan", BountyID: b.ID, Disputer: "alice",
		Reason: disputeReason, Decision: DecisionUnresolved, CreatedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.service.Complete(ctx, b.ID, "bob")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAppendDisputeNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := disputedBounty(t, f)

	_, err := f.service.ResolveDispute(ctx, b.ID, "arbiter-1", DecisionConfirm, "replay verified")
	require.NoError(t, err)

	d, err := f.service.AppendDisputeNotes(ctx, b.ID, "arbiter-2",
		"creator appealed; replay re-checked, ruling stands")
	require.NoError(t, err)
	require.Contains(t, d.ResolutionNotes, "replay verified", "original ruling notes kept")
	require.Contains(t, d.ResolutionNotes, "arbiter-2")
	require.Contains(t, d.ResolutionNotes, "ruling stands")
	require.Equal(t, DecisionConfirm, d.Decision, "ruling untouched")

	d, err = f.service.AppendDisputeNotes(ctx, b.ID, "arbiter-1", "appeal closed")
	require.NoError(t, err)
	require.Contains(t, d.ResolutionNotes, "ruling stands")
	require.Contains(t, d.ResolutionNotes, "appeal closed")
}

func TestAppendDisputeNotes_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("missing arbiter", func(t *testing.T) {
		f := newFixture(t)
		b := disputedBounty(t, f)
		_, err := f.service.AppendDisputeNotes(ctx, b.ID, "", "some follow-up")
		require.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("blank note", func(t *testing.T) {
		f := newFixture(t)
		b := disputedBounty(t, f)
		_, err := f.service.AppendDisputeNotes(ctx, b.ID, "arbiter-1", "   ")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("undecided dispute", func(t *testing.T) {
		f := newFixture(t)
		b := disputedBounty(t, f)
		_, err := f.service.AppendDisputeNotes(ctx, b.ID, "arbiter-1", "premature note")
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("no dispute", func(t *testing.T) {
		f := newFixture(t)
		b := f.pendingBounty(t)
		_, err := f.service.AppendDisputeNotes(ctx, b.ID, "arbiter-1", "nothing to annotate")
		require.ErrorIs(t, err, ErrDisputeNotFound)
	})
}
