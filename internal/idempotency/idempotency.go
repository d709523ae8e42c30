// Package idempotency records one outcome per operation key so that retried
// or duplicated financial mutations are served the original result instead
// of being applied twice.
//
// A key is a deterministic string built from the operation type, the entity
// it touches, and the acting party (plus a suffix for operations with more
// than one outcome, e.g. "expired" vs "cancelled"). Records are created on
// the first successful execution, read on every later attempt, never
// mutated, and pruned by age after a retention window. Pruning is not gated
// on the owning entity being terminal: if a record outlives its entity's
// lifecycle, the wallet's per-key journal remains the duplicate guard.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound means no record exists for the key.
	ErrNotFound = errors.New("idempotency: record not found")

	// ErrDuplicateKey means a record for the key already exists. Put never
	// overwrites; callers read the existing record and compare.
	ErrDuplicateKey = errors.New("idempotency: key already recorded")
)

// Record stores the outcome of one financial mutation.
type Record struct {
	Key       string    `json:"key"`
	Operation string    `json:"operation"`
	EntityID  string    `json:"entityId"`
	Actor     string    `json:"actor,omitempty"`
	Amount    int64     `json:"amount"`
	Result    string    `json:"result,omitempty"` // serialized outcome returned on replay
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists idempotency records.
type Store interface {
	// Put inserts a record. Returns ErrDuplicateKey if the key exists;
	// the stored record is never overwritten.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Delete removes the record for key, releasing it for a later Put.
	// Only for claims whose operation failed before any money moved;
	// deleting a record that guards an applied mutation breaks replay.
	// Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Prune deletes records created before the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Key builds a deterministic operation key from its parts.
// Example: Key("bounty_refund", "bty_1f2e", "expired") -> "bounty_refund:bty_1f2e:expired".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
