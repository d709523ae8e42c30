package idempotency

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists idempotency records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, rec *Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (op_key, operation, entity_id, actor, amount, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (op_key) DO NOTHING
	`, rec.Key, rec.Operation, rec.EntityID, nullString(rec.Actor), rec.Amount, nullString(rec.Result), createdAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := &Record{}
	var actor, result sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT op_key, operation, entity_id, actor, amount, result, created_at
		FROM idempotency_records
		WHERE op_key = $1
	`, key).Scan(&rec.Key, &rec.Operation, &rec.EntityID, &actor, &rec.Amount, &result, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Actor = actor.String
	rec.Result = result.String
	return rec, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE op_key = $1
	`, key)
	return err
}

func (p *PostgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
