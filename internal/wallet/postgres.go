package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kalebvo/stakeduel/internal/idgen"
)

// PostgresWallet implements Wallet with PostgreSQL.
//
// Every mutation runs in a single serializable transaction that claims the
// idempotency key, updates the balance row, and appends the journal entry.
// Either all three commit or none do, so a crash can never leave funds moved
// without a record. CHECK constraints on the balance table enforce
// available >= 0 and pending >= 0 at the database level.
type PostgresWallet struct {
	db *sql.DB
}

// NewPostgresWallet creates a PostgreSQL-backed wallet.
func NewPostgresWallet(db *sql.DB) *PostgresWallet {
	return &PostgresWallet{db: db}
}

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// claimKey inserts the idempotency marker for this mutation. Returns
// ErrAlreadyApplied if the key was claimed by an earlier transaction.
func claimKey(ctx context.Context, tx *sql.Tx, key, account, op string, amount int64) error {
	if key == "" {
		return nil
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_ops (op_key, account, op, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (op_key) DO NOTHING
	`, key, account, op, amount)
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyApplied
	}
	return nil
}

func journal(ctx context.Context, tx *sql.Tx, account, op string, amount int64, reason, key string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, account, op, amount, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, idgen.WithPrefix("wle_"), account, op, amount, nullString(reason), nullString(key))
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// mutate runs one balance mutation. deltaCached/deltaPending are applied to
// the account row; the CHECK constraints reject any result where
// cached - pending < 0 or pending < 0, which we surface as
// ErrInsufficientFunds.
func (p *PostgresWallet) mutate(ctx context.Context, account string, amount int64, op, reason, key string, deltaCached, deltaPending int64) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Balance{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := claimKey(ctx, tx, key, account, op, amount); err != nil {
		return Balance{}, err
	}

	var b Balance
	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallet_accounts (account, cached, pending, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account) DO UPDATE SET
			cached     = wallet_accounts.cached  + $2,
			pending    = wallet_accounts.pending + $3,
			updated_at = NOW()
		RETURNING account, cached, pending, updated_at
	`, account, deltaCached, deltaPending).Scan(&b.Account, &b.Cached, &b.Pending, &b.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation {
			return Balance{}, ErrInsufficientFunds
		}
		return Balance{}, fmt.Errorf("update balance: %w", err)
	}

	if err := journal(ctx, tx, account, op, amount, reason, key); err != nil {
		return Balance{}, err
	}

	if err := tx.Commit(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (p *PostgresWallet) Credit(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return p.mutate(ctx, account, amount, "credit", reason, key, amount, 0)
}

func (p *PostgresWallet) Debit(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return p.mutate(ctx, account, amount, "debit", reason, key, -amount, 0)
}

func (p *PostgresWallet) Lock(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return p.mutate(ctx, account, amount, "lock", reason, key, 0, amount)
}

func (p *PostgresWallet) Unlock(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return p.mutate(ctx, account, amount, "unlock", reason, key, 0, -amount)
}

func (p *PostgresWallet) Collect(ctx context.Context, account string, amount int64, reason, key string) (Balance, error) {
	return p.mutate(ctx, account, amount, "collect", reason, key, -amount, -amount)
}

func (p *PostgresWallet) AvailableBalance(ctx context.Context, account string) (int64, error) {
	var available int64
	err := p.db.QueryRowContext(ctx, `
		SELECT cached - pending FROM wallet_accounts WHERE account = $1
	`, account).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return available, err
}

func (p *PostgresWallet) GetBalance(ctx context.Context, account string) (Balance, error) {
	b := Balance{Account: account}
	err := p.db.QueryRowContext(ctx, `
		SELECT cached, pending, updated_at FROM wallet_accounts WHERE account = $1
	`, account).Scan(&b.Cached, &b.Pending, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Balance{Account: account}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (p *PostgresWallet) History(ctx context.Context, account string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account, op, amount, reason, reference, created_at
		FROM wallet_entries
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reason, reference sql.NullString
		if err := rows.Scan(&e.ID, &e.Account, &e.Op, &e.Amount, &reason, &reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = reason.String
		e.Reference = reference.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresWallet implements Wallet.
var _ Wallet = (*PostgresWallet)(nil)
