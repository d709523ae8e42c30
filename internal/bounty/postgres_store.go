package bounty

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists bounty data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed bounty store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pqUniqueViolation = "23505"

func (p *PostgresStore) Create(ctx context.Context, b *Bounty) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bounties (
			id, creator, acceptor, target_user, winner,
			stake_amount, payout_amount, fee_rate_bps, status,
			game_ref, match_ref,
			created_at, accepted_at, started_at, result_submitted_at,
			completed_at, expires_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15,
			$16, $17, $18
		)`,
		b.ID, b.Creator, nullString(b.Acceptor), nullString(b.TargetUser), nullString(b.Winner),
		b.StakeAmount, b.PayoutAmount, b.FeeRateBps, string(b.Status),
		nullString(b.GameRef), nullString(b.MatchRef),
		b.CreatedAt, nullTime(b.AcceptedAt), nullTime(b.StartedAt), nullTime(b.ResultSubmittedAt),
		nullTime(b.CompletedAt), b.ExpiresAt, b.UpdatedAt,
	)
	return err
}

const bountyColumns = `id, creator, acceptor, target_user, winner,
		       stake_amount, payout_amount, fee_rate_bps, status,
		       game_ref, match_ref,
		       created_at, accepted_at, started_at, result_submitted_at,
		       completed_at, expires_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Bounty, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = $1`, id)

	b, err := scanBounty(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *PostgresStore) Update(ctx context.Context, b *Bounty) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bounties SET
			acceptor = $1, winner = $2, payout_amount = $3, status = $4,
			accepted_at = $5, started_at = $6, result_submitted_at = $7,
			completed_at = $8, updated_at = $9
		WHERE id = $10`,
		nullString(b.Acceptor), nullString(b.Winner), b.PayoutAmount, string(b.Status),
		nullTime(b.AcceptedAt), nullTime(b.StartedAt), nullTime(b.ResultSubmittedAt),
		nullTime(b.CompletedAt), b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Bounty, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bountyColumns+`
		FROM bounties
		WHERE status = 'OPEN'
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBounties(rows)
}

func (p *PostgresStore) ListByUser(ctx context.Context, user string, limit int) ([]*Bounty, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bountyColumns+`
		FROM bounties
		WHERE creator = $1 OR acceptor = $1
		ORDER BY created_at DESC
		LIMIT $2`, user, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBounties(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Bounty, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bountyColumns+`
		FROM bounties
		WHERE status = 'OPEN'
		  AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBounties(rows)
}

func (p *PostgresStore) ListSettleable(ctx context.Context, submittedBefore time.Time, limit int) ([]*Bounty, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bountyColumns+`
		FROM bounties
		WHERE status = 'PENDING_RESULT'
		  AND result_submitted_at <= $1
		ORDER BY result_submitted_at ASC
		LIMIT $2`, submittedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBounties(rows)
}

func (p *PostgresStore) CountActiveAccepted(ctx context.Context, user string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bounties
		WHERE acceptor = $1 AND status IN ('ACCEPTED', 'IN_PROGRESS')
	`, user).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateProof(ctx context.Context, proof *Proof) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bounty_proofs (id, bounty_id, submitted_by, claimed_winner, proof_ref, proof_type, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		proof.ID, proof.BountyID, proof.SubmittedBy, proof.ClaimedWinner,
		proof.ProofRef, nullString(proof.ProofType), proof.SubmittedAt,
	)
	return err
}

func (p *PostgresStore) GetProofs(ctx context.Context, bountyID string) ([]*Proof, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, bounty_id, submitted_by, claimed_winner, proof_ref, proof_type, submitted_at
		FROM bounty_proofs
		WHERE bounty_id = $1
		ORDER BY submitted_at DESC`, bountyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var proofs []*Proof
	for rows.Next() {
		pr := &Proof{}
		var proofType sql.NullString
		if err := rows.Scan(&pr.ID, &pr.BountyID, &pr.SubmittedBy, &pr.ClaimedWinner,
			&pr.ProofRef, &proofType, &pr.SubmittedAt); err != nil {
			return nil, err
		}
		pr.ProofType = proofType.String
		proofs = append(proofs, pr)
	}
	return proofs, rows.Err()
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bounty_disputes (id, bounty_id, disputer, reason, assigned_arbiter, decision, resolution_notes, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.BountyID, d.Disputer, d.Reason,
		nullString(d.AssignedArbiter), string(d.Decision), nullString(d.ResolutionNotes),
		d.CreatedAt, nullTime(d.ResolvedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDisputeExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetDispute(ctx context.Context, bountyID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, bounty_id, disputer, reason, assigned_arbiter, decision, resolution_notes, created_at, resolved_at
		FROM bounty_disputes
		WHERE bounty_id = $1`, bountyID)

	d := &Dispute{}
	var arbiter, notes sql.NullString
	var resolvedAt sql.NullTime
	var decision string
	err := row.Scan(&d.ID, &d.BountyID, &d.Disputer, &d.Reason,
		&arbiter, &decision, &notes, &d.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	d.AssignedArbiter = arbiter.String
	d.Decision = Decision(decision)
	d.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
}

func (p *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bounty_disputes SET
			assigned_arbiter = $1, decision = $2, resolution_notes = $3, resolved_at = $4
		WHERE bounty_id = $5`,
		nullString(d.AssignedArbiter), string(d.Decision), nullString(d.ResolutionNotes),
		nullTime(d.ResolvedAt), d.BountyID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) Stats(ctx context.Context, user string) (*UserStats, error) {
	stats := &UserStats{User: user}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE creator = $1),
			COUNT(*) FILTER (WHERE acceptor = $1),
			COUNT(*) FILTER (WHERE status = 'COMPLETED' AND winner = $1),
			COUNT(*) FILTER (WHERE status = 'COMPLETED' AND winner IS NOT NULL AND winner <> $1),
			COALESCE(SUM(payout_amount) FILTER (WHERE status = 'COMPLETED' AND winner = $1), 0),
			COALESCE(SUM(stake_amount) FILTER (WHERE status = 'COMPLETED' AND creator = $1 AND winner IS NOT NULL), 0)
		FROM bounties
		WHERE creator = $1 OR acceptor = $1
	`, user).Scan(&stats.Created, &stats.Accepted, &stats.Won, &stats.Lost,
		&stats.TotalEarnings, &stats.TotalWagered)
	if err != nil {
		return nil, err
	}
	stats.computeWinRate()
	return stats, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBounty(s scanner) (*Bounty, error) {
	b := &Bounty{}
	var (
		acceptor          sql.NullString
		targetUser        sql.NullString
		winner            sql.NullString
		gameRef           sql.NullString
		matchRef          sql.NullString
		status            string
		acceptedAt        sql.NullTime
		startedAt         sql.NullTime
		resultSubmittedAt sql.NullTime
		completedAt       sql.NullTime
	)

	err := s.Scan(
		&b.ID, &b.Creator, &acceptor, &targetUser, &winner,
		&b.StakeAmount, &b.PayoutAmount, &b.FeeRateBps, &status,
		&gameRef, &matchRef,
		&b.CreatedAt, &acceptedAt, &startedAt, &resultSubmittedAt,
		&completedAt, &b.ExpiresAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = Status(status)
	b.Acceptor = acceptor.String
	b.TargetUser = targetUser.String
	b.Winner = winner.String
	b.GameRef = gameRef.String
	b.MatchRef = matchRef.String
	if acceptedAt.Valid {
		b.AcceptedAt = &acceptedAt.Time
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if resultSubmittedAt.Valid {
		b.ResultSubmittedAt = &resultSubmittedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}

	return b, nil
}

func scanBounties(rows *sql.Rows) ([]*Bounty, error) {
	var result []*Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
