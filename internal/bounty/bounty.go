// Package bounty implements the escrow-backed staked-challenge engine.
//
// A bounty is a wager one user posts against another on the outcome of a
// match. The creator's stake is locked in escrow at creation; settlement
// releases it and pays the winner minus the platform fee, while cancel,
// expiry, and a VOID dispute decision refund it. All money movement goes
// through the escrow manager with deterministic idempotency keys, so every
// transition is safe to retry and safe under concurrent callers.
package bounty

import (
	"context"
	"time"
)

// Status is the lifecycle state of a bounty. Values are persisted exactly as
// these strings; reporting systems depend on them.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusAccepted      Status = "ACCEPTED"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusPendingResult Status = "PENDING_RESULT"
	StatusDisputed      Status = "DISPUTED"
	StatusCompleted     Status = "COMPLETED"
	StatusExpired       Status = "EXPIRED"
	StatusCancelled     Status = "CANCELLED"
)

// Decision is an arbiter's ruling on a dispute.
type Decision string

const (
	DecisionUnresolved Decision = "UNRESOLVED"
	DecisionConfirm    Decision = "CONFIRM" // pay the claimed winner
	DecisionReverse    Decision = "REVERSE" // pay the other participant
	DecisionVoid       Decision = "VOID"    // refund the creator's stake
)

// Bounty is a single challenge instance. Amounts are integer minor units.
type Bounty struct {
	ID         string `json:"id"`
	Creator    string `json:"creator"`
	Acceptor   string `json:"acceptor,omitempty"`
	TargetUser string `json:"targetUser,omitempty"` // restricts who may accept
	Winner     string `json:"winner,omitempty"`

	StakeAmount  int64 `json:"stakeAmount"`
	PayoutAmount int64 `json:"payoutAmount"` // 0 until settled
	FeeRateBps   int   `json:"feeRateBps"`   // snapshot at creation, never re-read

	Status Status `json:"status"`

	GameRef  string `json:"gameRef,omitempty"`
	MatchRef string `json:"matchRef,omitempty"`

	CreatedAt         time.Time  `json:"createdAt"`
	AcceptedAt        *time.Time `json:"acceptedAt,omitempty"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	ResultSubmittedAt *time.Time `json:"resultSubmittedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	ExpiresAt         time.Time  `json:"expiresAt"` // meaningful only while OPEN
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether no further transition is defined.
func (b *Bounty) IsTerminal() bool {
	switch b.Status {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsParticipant reports whether user is the creator or the acceptor.
func (b *Bounty) IsParticipant(user string) bool {
	return user != "" && (user == b.Creator || user == b.Acceptor)
}

// otherParticipant returns the participant that is not user.
func (b *Bounty) otherParticipant(user string) string {
	if user == b.Creator {
		return b.Acceptor
	}
	return b.Creator
}

// fee splits the stake by the snapshotted fee rate. The payout is floored and
// the fee is the remainder, so payout + fee == stake exactly.
func (b *Bounty) fee() (payout, fee int64) {
	payout = b.StakeAmount * int64(10000-b.FeeRateBps) / 10000
	fee = b.StakeAmount - payout
	return payout, fee
}

// Proof is an immutable evidence record attached by submit_result.
type Proof struct {
	ID            string    `json:"id"`
	BountyID      string    `json:"bountyId"`
	SubmittedBy   string    `json:"submittedBy"`
	ClaimedWinner string    `json:"claimedWinner"`
	ProofRef      string    `json:"proofRef"`
	ProofType     string    `json:"proofType,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Dispute is the one-per-bounty contest record. Once Decision is no longer
// UNRESOLVED the record is immutable except for append-only notes.
type Dispute struct {
	ID              string     `json:"id"`
	BountyID        string     `json:"bountyId"`
	Disputer        string     `json:"disputer"`
	Reason          string     `json:"reason"`
	AssignedArbiter string     `json:"assignedArbiter,omitempty"`
	Decision        Decision   `json:"decision"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists bounties and their sub-records.
type Store interface {
	Create(ctx context.Context, b *Bounty) error
	Get(ctx context.Context, id string) (*Bounty, error)
	Update(ctx context.Context, b *Bounty) error

	// ListOpen returns OPEN bounties newest first.
	ListOpen(ctx context.Context, limit int) ([]*Bounty, error)
	// ListByUser returns bounties the user created or accepted, newest first.
	ListByUser(ctx context.Context, user string, limit int) ([]*Bounty, error)
	// ListExpired returns OPEN bounties with expires_at <= before, oldest first.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Bounty, error)
	// ListSettleable returns PENDING_RESULT bounties whose result was
	// submitted at or before the cutoff, oldest first.
	ListSettleable(ctx context.Context, submittedBefore time.Time, limit int) ([]*Bounty, error)

	// CountActiveAccepted counts the user's bounties in ACCEPTED or
	// IN_PROGRESS as the acceptor.
	CountActiveAccepted(ctx context.Context, user string) (int, error)

	CreateProof(ctx context.Context, p *Proof) error
	GetProofs(ctx context.Context, bountyID string) ([]*Proof, error)

	// CreateDispute inserts the dispute; a second insert for the same bounty
	// fails with ErrDisputeExists.
	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, bountyID string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error

	// Stats aggregates the read-only per-user counters.
	Stats(ctx context.Context, user string) (*UserStats, error)
}
