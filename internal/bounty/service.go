package bounty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalebvo/stakeduel/internal/escrow"
	"github.com/kalebvo/stakeduel/internal/idempotency"
	"github.com/kalebvo/stakeduel/internal/idgen"
	"github.com/kalebvo/stakeduel/internal/metrics"
	"github.com/kalebvo/stakeduel/internal/traces"
)

// MinDisputeReasonLen is the minimum length for a dispute reason.
const MinDisputeReasonLen = 20

// Settings are the engine's economic and timing knobs, resolved once at
// service start. The fee rate is snapshotted onto each bounty at creation
// and never read live during settlement.
type Settings struct {
	StakeMin             int64
	StakeMax             int64
	FeeRateBps           int
	PlatformAccount      string
	DisputeWindow        time.Duration
	ExpiryGrace          time.Duration
	DefaultExpiresIn     time.Duration
	MaxActivePerAcceptor int
}

// EventSink receives lifecycle events for realtime broadcasting.
type EventSink interface {
	BountyEvent(event string, b *Bounty)
}

// AccessChecker reports whether a user is blocked from accepting bounties.
type AccessChecker interface {
	Blocked(ctx context.Context, user string) bool
}

// CreateLimiter throttles bounty creation per user.
type CreateLimiter interface {
	Allow(user string) bool
}

// Service implements the bounty state machine.
type Service struct {
	store    Store
	escrow   *escrow.Manager
	ledger   idempotency.Store
	settings Settings
	logger   *slog.Logger

	sink    EventSink
	access  AccessChecker
	limiter CreateLimiter

	now   func() time.Time
	locks sync.Map // per-key mutexes: bounty IDs, create keys, acceptor tags
}

// NewService creates a bounty service.
func NewService(store Store, esc *escrow.Manager, ledger idempotency.Store, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MaxActivePerAcceptor <= 0 {
		settings.MaxActivePerAcceptor = 3
	}
	return &Service{
		store:    store,
		escrow:   esc,
		ledger:   ledger,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// WithEventSink adds a lifecycle event sink for realtime streaming.
func (s *Service) WithEventSink(sink EventSink) *Service {
	s.sink = sink
	return s
}

// WithAccessChecker adds an acceptor blocklist check.
func (s *Service) WithAccessChecker(a AccessChecker) *Service {
	s.access = a
	return s
}

// WithCreateLimiter adds a per-creator rate limit on bounty creation.
func (s *Service) WithCreateLimiter(l CreateLimiter) *Service {
	s.limiter = l
	return s
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// keyLock returns the mutex serializing work on one key. Transitions lock the
// bounty ID; create locks its idempotency key; accept additionally locks an
// acceptor tag. The only nested order is bounty ID then acceptor tag.
func (s *Service) keyLock(key string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, b *Bounty) {
	if s.sink != nil {
		s.sink.BountyEvent(event, b)
	}
}

func (s *Service) recordTransition(op string, st Status) {
	metrics.BountyTransitionsTotal.WithLabelValues(op, string(st)).Inc()
}

// CreateRequest contains the parameters for creating a bounty.
type CreateRequest struct {
	Creator        string `json:"creator"`
	StakeAmount    int64  `json:"stakeAmount" binding:"required"`
	ExpiresIn      string `json:"expiresIn"`  // duration string, e.g. "1h"
	TargetUser     string `json:"targetUser"` // restricts who may accept
	GameRef        string `json:"gameRef"`
	MatchRef       string `json:"matchRef"`
	IdempotencyKey string `json:"idempotencyKey"` // optional client retry key
}

// Create validates the request, locks the creator's stake in escrow, and
// persists a new OPEN bounty. A replay with the same idempotency key returns
// the originally created bounty without moving funds again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.Create",
		traces.User(req.Creator), traces.Amount(req.StakeAmount))
	defer span.End()

	if req.Creator == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrValidation)
	}
	if req.StakeAmount < s.settings.StakeMin || req.StakeAmount > s.settings.StakeMax {
		return nil, fmt.Errorf("%w: stake %d outside [%d, %d]",
			ErrValidation, req.StakeAmount, s.settings.StakeMin, s.settings.StakeMax)
	}
	if req.TargetUser == req.Creator && req.TargetUser != "" {
		return nil, fmt.Errorf("%w: cannot target yourself", ErrValidation)
	}

	// Client retry with the same key returns the original bounty. The per-key
	// mutex serializes concurrent retries so only one proceeds to lock a stake.
	var createKey string
	if req.IdempotencyKey != "" {
		createKey = idempotency.Key("bounty_create", req.Creator, req.IdempotencyKey)
		mu := s.keyLock(createKey)
		mu.Lock()
		defer mu.Unlock()

		b, err := s.replayCreate(ctx, createKey, req.StakeAmount)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, idempotency.ErrNotFound) {
			return nil, err
		}
	}

	if s.limiter != nil && !s.limiter.Allow(req.Creator) {
		return nil, ErrRateLimited
	}

	expiresIn := s.settings.DefaultExpiresIn
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid expiresIn %q", ErrValidation, req.ExpiresIn)
		}
		expiresIn = d
	}

	now := s.now()
	b := &Bounty{
		ID:          idgen.WithPrefix("bty_"),
		Creator:     req.Creator,
		TargetUser:  req.TargetUser,
		StakeAmount: req.StakeAmount,
		FeeRateBps:  s.settings.FeeRateBps,
		Status:      StatusOpen,
		GameRef:     req.GameRef,
		MatchRef:    req.MatchRef,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
		UpdatedAt:   now,
	}
	span.SetAttributes(traces.BountyID(b.ID))

	// Claim the create key before any money moves. A concurrent request from
	// another process carrying the same key loses the insert and replays.
	if createKey != "" {
		if err := s.ledger.Put(ctx, &idempotency.Record{
			Key:       createKey,
			Operation: "bounty_create",
			EntityID:  b.ID,
			Actor:     req.Creator,
			Amount:    req.StakeAmount,
		}); err != nil {
			if errors.Is(err, idempotency.ErrDuplicateKey) {
				return s.replayCreate(ctx, createKey, req.StakeAmount)
			}
			return nil, fmt.Errorf("claim create key: %w", err)
		}
	}

	lockKey := idempotency.Key("bounty_lock", b.ID, b.Creator)
	if _, err := s.escrow.Lock(ctx, b.Creator, b.ID, b.StakeAmount, lockKey, "bounty stake"); err != nil {
		s.releaseCreateClaim(ctx, createKey)
		return nil, err
	}

	if err := s.store.Create(ctx, b); err != nil {
		// Best-effort refund if the record cannot be persisted. The claim is
		// released only once the stake is back; otherwise retries with the
		// same key must fail closed rather than lock a second stake.
		refundKey := idempotency.Key("bounty_refund", b.ID, "create_failed")
		if _, refundErr := s.escrow.Refund(ctx, b.Creator, b.ID, b.StakeAmount, refundKey, "create failed"); refundErr != nil {
			s.logger.Error("CRITICAL: stake locked but bounty create and refund both failed",
				"bounty", b.ID, "creator", b.Creator, "stake", b.StakeAmount, "error", refundErr)
		} else {
			s.releaseCreateClaim(ctx, createKey)
		}
		return nil, fmt.Errorf("create bounty record: %w", err)
	}

	s.recordTransition("create", StatusOpen)
	s.emit("bounty.created", b)
	return b, nil
}

// releaseCreateClaim frees a claimed create key after a failed create so the
// client can retry with the same key. Nothing was applied under the claim.
func (s *Service) releaseCreateClaim(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.ledger.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to release create key", "key", key, "error", err)
	}
}

// replayCreate serves a create whose key is already recorded: the original
// bounty comes back and no funds move. A mismatched stake is refused loudly.
func (s *Service) replayCreate(ctx context.Context, key string, stake int64) (*Bounty, error) {
	rec, err := s.ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Amount != stake {
		metrics.IntegrityViolationsTotal.Inc()
		return nil, fmt.Errorf("%w: create key %s recorded stake %d, requested %d",
			escrow.ErrAmountMismatch, key, rec.Amount, stake)
	}
	return s.store.Get(ctx, rec.EntityID)
}

// Accept assigns the acceptor and moves the bounty to ACCEPTED. The stake
// stays locked on the creator side; accepting moves no money.
func (s *Service) Accept(ctx context.Context, id, acceptor string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.Accept",
		traces.BountyID(id), traces.User(acceptor))
	defer span.End()

	if acceptor == "" {
		return nil, fmt.Errorf("%w: acceptor is required", ErrValidation)
	}

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if b.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot accept from %s", ErrInvalidTransition, b.Status)
	}
	now := s.now()
	if !now.Before(b.ExpiresAt) {
		return nil, fmt.Errorf("%w: bounty has expired", ErrInvalidTransition)
	}
	if acceptor == b.Creator {
		return nil, fmt.Errorf("%w: cannot accept your own bounty", ErrValidation)
	}
	if b.TargetUser != "" && acceptor != b.TargetUser {
		return nil, fmt.Errorf("%w: bounty is reserved for another user", ErrPermissionDenied)
	}
	if s.access != nil && s.access.Blocked(ctx, acceptor) {
		return nil, ErrUserBlocked
	}

	// The active count must include rows written by concurrent accepts of
	// other bounties, so count-then-update is atomic per acceptor.
	amu := s.keyLock("acceptor:" + acceptor)
	amu.Lock()
	defer amu.Unlock()

	active, err := s.store.CountActiveAccepted(ctx, acceptor)
	if err != nil {
		return nil, err
	}
	if active >= s.settings.MaxActivePerAcceptor {
		return nil, fmt.Errorf("%w: %d already active", ErrTooManyActive, active)
	}

	b.Acceptor = acceptor
	b.Status = StatusAccepted
	b.AcceptedAt = &now
	b.UpdatedAt = now

	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}

	s.recordTransition("accept", StatusAccepted)
	s.emit("bounty.accepted", b)
	return b, nil
}

// Start moves an ACCEPTED bounty to IN_PROGRESS. Either participant may start.
func (s *Service) Start(ctx context.Context, id, caller string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.Start",
		traces.BountyID(id), traces.User(caller))
	defer span.End()

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, b.Status)
	}
	if !b.IsParticipant(caller) {
		return nil, ErrPermissionDenied
	}

	now := s.now()
	b.Status = StatusInProgress
	b.StartedAt = &now
	b.UpdatedAt = now

	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}

	s.recordTransition("start", StatusInProgress)
	s.emit("bounty.started", b)
	return b, nil
}

// SubmitResult attaches a proof claiming a winner and moves the bounty to
// PENDING_RESULT, opening the dispute window.
func (s *Service) SubmitResult(ctx context.Context, id, caller, claimedWinner, proofRef, proofType string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.SubmitResult",
		traces.BountyID(id), traces.User(caller))
	defer span.End()

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: cannot submit result from %s", ErrInvalidTransition, b.Status)
	}
	if !b.IsParticipant(caller) {
		return nil, ErrPermissionDenied
	}
	if !b.IsParticipant(claimedWinner) {
		return nil, fmt.Errorf("%w: claimed winner must be a participant", ErrValidation)
	}
	if proofRef == "" {
		return nil, fmt.Errorf("%w: proof reference is required", ErrValidation)
	}

	now := s.now()
	proof := &Proof{
		ID:            idgen.WithPrefix("prf_"),
		BountyID:      b.ID,
		SubmittedBy:   caller,
		ClaimedWinner: claimedWinner,
		ProofRef:      proofRef,
		ProofType:     proofType,
		SubmittedAt:   now,
	}
	if err := s.store.CreateProof(ctx, proof); err != nil {
		return nil, fmt.Errorf("record proof: %w", err)
	}

	b.Status = StatusPendingResult
	b.ResultSubmittedAt = &now
	b.UpdatedAt = now

	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}

	s.recordTransition("submit_result", StatusPendingResult)
	s.emit("bounty.result_submitted", b)
	return b, nil
}

// Complete settles a PENDING_RESULT bounty once the dispute window has
// elapsed with no open dispute: the creator's stake is released, the claimed
// winner is paid stake minus fee, and the fee goes to the platform account.
// Caller may be empty when invoked by the sweeper.
func (s *Service) Complete(ctx context.Context, id, caller string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.Complete", traces.BountyID(id))
	defer span.End()

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != "" && !b.IsParticipant(caller) {
		return nil, ErrPermissionDenied
	}
	if b.Status != StatusPendingResult {
		return nil, fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, b.Status)
	}
	if b.ResultSubmittedAt == nil || s.now().Before(b.ResultSubmittedAt.Add(s.settings.DisputeWindow)) {
		return nil, ErrDisputeWindowOpen
	}
	// The status check covers disputes in the normal flow; re-verify against
	// the dispute record in case a raise crashed between insert and update.
	if d, err := s.store.GetDispute(ctx, b.ID); err == nil && d.Decision == DecisionUnresolved {
		return nil, fmt.Errorf("%w: unresolved dispute blocks completion", ErrInvalidTransition)
	}

	winner, err := s.claimedWinner(ctx, b)
	if err != nil {
		return nil, err
	}

	if err := s.settle(ctx, b, winner, "complete"); err != nil {
		return nil, err
	}
	s.recordTransition("complete", StatusCompleted)
	s.emit("bounty.completed", b)
	return b, nil
}

// claimedWinner returns the winner named by the most recent proof.
func (s *Service) claimedWinner(ctx context.Context, b *Bounty) (string, error) {
	proofs, err := s.store.GetProofs(ctx, b.ID)
	if err != nil {
		return "", err
	}
	if len(proofs) == 0 {
		return "", fmt.Errorf("%w: no proof on record", ErrValidation)
	}
	return proofs[0].ClaimedWinner, nil
}

// settle pays out and drives the bounty to COMPLETED. All three money moves
// carry fixed keys derived from the bounty ID, so a crashed settlement
// resumes exactly where it stopped on retry.
func (s *Service) settle(ctx context.Context, b *Bounty, winner, cause string) error {
	payout, fee := b.fee()

	releaseKey := idempotency.Key("bounty_release", b.ID)
	if _, err := s.escrow.Release(ctx, b.Creator, b.ID, b.StakeAmount, releaseKey, "stake settled: "+cause); err != nil {
		return fmt.Errorf("release stake: %w", err)
	}
	payoutKey := idempotency.Key("bounty_payout", b.ID, winner)
	if _, err := s.escrow.Payout(ctx, winner, b.ID, payout, payoutKey, "bounty winnings"); err != nil {
		return fmt.Errorf("pay winner: %w", err)
	}
	if fee > 0 {
		feeKey := idempotency.Key("bounty_fee", b.ID)
		if _, err := s.escrow.Payout(ctx, s.settings.PlatformAccount, b.ID, fee, feeKey, "platform fee"); err != nil {
			return fmt.Errorf("collect fee: %w", err)
		}
	}

	now := s.now()
	b.Winner = winner
	b.PayoutAmount = payout
	b.Status = StatusCompleted
	b.CompletedAt = &now
	b.UpdatedAt = now

	if err := s.store.Update(ctx, b); err != nil {
		// Retry once: funds already moved, the state change must land.
		if retryErr := s.store.Update(ctx, b); retryErr != nil {
			s.logger.Error("CRITICAL: bounty settled but status update failed, requires manual resolution",
				"bounty", b.ID, "winner", winner, "payout", payout, "error", retryErr)
			return fmt.Errorf("update bounty after settlement (requires manual resolution): %w", err)
		}
	}
	return nil
}

// refundAndClose refunds the creator's locked stake and moves the bounty to
// the given terminal status. Used by cancel, expire, and VOID resolution.
func (s *Service) refundAndClose(ctx context.Context, b *Bounty, to Status, keySuffix, reason string) error {
	refundKey := idempotency.Key("bounty_refund", b.ID, keySuffix)
	if _, err := s.escrow.Refund(ctx, b.Creator, b.ID, b.StakeAmount, refundKey, reason); err != nil {
		return fmt.Errorf("refund stake: %w", err)
	}

	now := s.now()
	b.Status = to
	if to == StatusCompleted {
		b.CompletedAt = &now
	}
	b.UpdatedAt = now

	if err := s.store.Update(ctx, b); err != nil {
		if retryErr := s.store.Update(ctx, b); retryErr != nil {
			s.logger.Error("CRITICAL: stake refunded but status update failed, requires manual resolution",
				"bounty", b.ID, "creator", b.Creator, "stake", b.StakeAmount, "error", retryErr)
			return fmt.Errorf("update bounty after refund (requires manual resolution): %w", err)
		}
	}
	return nil
}

// Cancel refunds and closes an OPEN bounty. Only the creator may cancel;
// once accepted, a bounty can only end through settlement or arbitration.
func (s *Service) Cancel(ctx context.Context, id, caller string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.Cancel",
		traces.BountyID(id), traces.User(caller))
	defer span.End()

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, b.Status)
	}
	if caller != b.Creator {
		return nil, ErrPermissionDenied
	}

	if err := s.refundAndClose(ctx, b, StatusCancelled, "cancelled", "bounty cancelled"); err != nil {
		return nil, err
	}
	s.recordTransition("cancel", StatusCancelled)
	s.emit("bounty.cancelled", b)
	return b, nil
}

// Expire refunds and closes an OPEN bounty past its expiry plus grace. The
// sweeper and any interactive caller go through this same entry point.
func (s *Service) Expire(ctx context.Context, id string) (*Bounty, error) {
	ctx, span := traces.StartSpan(ctx, "bounty.Expire", traces.BountyID(id))
	defer span.End()

	mu := s.keyLock(id)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under lock: a concurrent accept may have won the race since
	// the sweeper's batch query.
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot expire from %s", ErrInvalidTransition, b.Status)
	}
	if s.now().Before(b.ExpiresAt.Add(s.settings.ExpiryGrace)) {
		return nil, fmt.Errorf("%w: not yet expired", ErrInvalidTransition)
	}

	if err := s.refundAndClose(ctx, b, StatusExpired, "expired", "bounty expired"); err != nil {
		return nil, err
	}
	s.recordTransition("expire", StatusExpired)
	s.emit("bounty.expired", b)
	return b, nil
}

// Get returns a bounty by ID.
func (s *Service) Get(ctx context.Context, id string) (*Bounty, error) {
	return s.store.Get(ctx, id)
}

// Detail is a bounty with its proof and dispute sub-records.
type Detail struct {
	Bounty  *Bounty  `json:"bounty"`
	Proofs  []*Proof `json:"proofs,omitempty"`
	Dispute *Dispute `json:"dispute,omitempty"`
}

// GetDetail returns a bounty with its proofs and dispute, if any.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	proofs, err := s.store.GetProofs(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Bounty: b, Proofs: proofs}
	dispute, err := s.store.GetDispute(ctx, id)
	if err == nil {
		d.Dispute = dispute
	} else if !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}
	return d, nil
}

// ListOpen returns open bounties, newest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Bounty, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListOpen(ctx, limit)
}

// ListByUser returns bounties the user created or accepted, newest first.
func (s *Service) ListByUser(ctx context.Context, user string, limit int) ([]*Bounty, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, user, limit)
}
