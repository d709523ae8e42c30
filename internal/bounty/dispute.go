package bounty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalebvo/stakeduel/internal/idgen"
	"github.com/kalebvo/stakeduel/internal/metrics"
	"github.com/kalebvo/stakeduel/internal/traces"
)

// RaiseDispute contests a submitted result. Only callable by a participant,
// only while the dispute window is open, and only once per bounty. The
// bounty moves to DISPUTED, which blocks completion until an arbiter rules.
func (s *Service) RaiseDispute(ctx context.Context, id, disputer, reason string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.RaiseDispute",
		traces.BountyID(id), traces.User(disputer))
	defer span.End()

	if len(reason) < MinDisputeReasonLen {
		return nil, fmt.Errorf("%w: dispute reason must be at least %d characters",
			ErrValidation, MinDisputeReasonLen)
	}

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusDisputed {
		return nil, ErrDisputeExists
	}
	if b.Status != StatusPendingResult {
		return nil, fmt.Errorf("%w: cannot dispute from %s", ErrInvalidTransition, b.Status)
	}
	if !b.IsParticipant(disputer) {
		return nil, ErrPermissionDenied
	}
	now := s.now()
	if b.ResultSubmittedAt == nil || !now.Before(b.ResultSubmittedAt.Add(s.settings.DisputeWindow)) {
		return nil, ErrDisputeWindowClosed
	}

	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		BountyID:  b.ID,
		Disputer:  disputer,
		Reason:    reason,
		Decision:  DecisionUnresolved,
		CreatedAt: now,
	}
	if err := s.store.CreateDispute(ctx, d); err != nil {
		return nil, err
	}

	b.Status = StatusDisputed
	b.UpdatedAt = now
	if err := s.store.Update(ctx, b); err != nil {
		// The dispute row exists, so Complete stays blocked either way.
		return nil, fmt.Errorf("update bounty after dispute: %w", err)
	}

	metrics.DisputesOpenTotal.Inc()
	s.recordTransition("raise_dispute", StatusDisputed)
	s.emit("bounty.disputed", b)
	return d, nil
}

// ResolveDispute applies an arbiter's binding ruling and settles the bounty:
// CONFIRM pays the claimed winner, REVERSE pays the other participant, VOID
// refunds the creator's stake. One-shot; a second resolve is rejected.
// Arbiter authorization is the calling layer's job.
func (s *Service) ResolveDispute(ctx context.Context, id, arbiter string, decision Decision, notes string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.ResolveDispute",
		traces.BountyID(id), traces.User(arbiter), traces.Operation(string(decision)))
	defer span.End()

	if arbiter == "" {
		return nil, fmt.Errorf("%w: arbiter is required", ErrPermissionDenied)
	}
	switch decision {
	case DecisionConfirm, DecisionReverse, DecisionVoid:
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: cannot resolve from %s", ErrInvalidTransition, b.Status)
	}
	d, err := s.store.GetDispute(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if d.Decision != DecisionUnresolved {
		return nil, fmt.Errorf("%w: dispute already resolved with %s", ErrInvalidTransition, d.Decision)
	}

	switch decision {
	case DecisionVoid:
		if err := s.refundAndClose(ctx, b, StatusCompleted, "void", "dispute voided"); err != nil {
			return nil, err
		}
	default:
		claimed, err := s.claimedWinner(ctx, b)
		if err != nil {
			return nil, err
		}
		winner := claimed
		if decision == DecisionReverse {
			winner = b.otherParticipant(claimed)
		}
		if err := s.settle(ctx, b, winner, "dispute "+string(decision)); err != nil {
			return nil, err
		}
	}

	now := s.now()
	d.AssignedArbiter = arbiter
	d.Decision = decision
	d.ResolutionNotes = notes
	d.ResolvedAt = &now
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		// The bounty is already COMPLETED and the money moved; the ruling
		// record must land.
		if retryErr := s.store.UpdateDispute(ctx, d); retryErr != nil {
			s.logger.Error("CRITICAL: bounty settled but dispute record update failed",
				"bounty", b.ID, "dispute", d.ID, "decision", decision, "error", retryErr)
			return nil, fmt.Errorf("update dispute after settlement (requires manual resolution): %w", err)
		}
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(decision)).Inc()
	s.recordTransition("resolve_dispute", StatusCompleted)
	s.emit("bounty.resolved", b)
	return b, nil
}

// AppendDisputeNotes adds an arbiter note to a decided dispute. The ruling is
// final; notes are the only field that may grow afterward. Each note is
// stamped with the time and the arbiter who wrote it.
func (s *Service) AppendDisputeNotes(ctx context.Context, id, arbiter, note string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.AppendDisputeNotes",
		traces.BountyID(id), traces.User(arbiter))
	defer span.End()

	if arbiter == "" {
		return nil, fmt.Errorf("%w: arbiter is required", ErrPermissionDenied)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("%w: note is required", ErrValidation)
	}

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Decision == DecisionUnresolved {
		return nil, fmt.Errorf("%w: notes on an undecided dispute go through resolve", ErrInvalidTransition)
	}

	line := fmt.Sprintf("[%s %s] %s", s.now().UTC().Format(time.RFC3339), arbiter, note)
	if d.ResolutionNotes != "" {
		d.ResolutionNotes += "\n"
	}
	d.ResolutionNotes += line

	if err := s.store.UpdateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("append dispute notes: %w", err)
	}
	return d, nil
}
