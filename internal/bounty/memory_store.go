package bounty

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory bounty store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	bounties map[string]*Bounty
	proofs   map[string][]*Proof // keyed by bounty ID, newest first
	disputes map[string]*Dispute // keyed by bounty ID
}

// NewMemoryStore creates a new in-memory bounty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bounties: make(map[string]*Bounty),
		proofs:   make(map[string][]*Proof),
		disputes: make(map[string]*Dispute),
	}
}

func (m *MemoryStore) Create(ctx context.Context, b *Bounty) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.bounties[b.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bounties[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, b *Bounty) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bounties[b.ID]; !ok {
		return ErrNotFound
	}
	cp := *b
	m.bounties[b.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Bounty
	for _, b := range m.bounties {
		if b.Status == StatusOpen {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, user string, limit int) ([]*Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Bounty
	for _, b := range m.bounties {
		if b.Creator == user || b.Acceptor == user {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Bounty
	for _, b := range m.bounties {
		if b.Status == StatusOpen && !b.ExpiresAt.After(before) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListSettleable(ctx context.Context, submittedBefore time.Time, limit int) ([]*Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Bounty
	for _, b := range m.bounties {
		if b.Status == StatusPendingResult && b.ResultSubmittedAt != nil && !b.ResultSubmittedAt.After(submittedBefore) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultSubmittedAt.Before(*out[j].ResultSubmittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountActiveAccepted(ctx context.Context, user string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, b := range m.bounties {
		if b.Acceptor == user && (b.Status == StatusAccepted || b.Status == StatusInProgress) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateProof(ctx context.Context, p *Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.proofs[p.BountyID] = append([]*Proof{&cp}, m.proofs[p.BountyID]...)
	return nil
}

func (m *MemoryStore) GetProofs(ctx context.Context, bountyID string) ([]*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Proof
	for _, p := range m.proofs[bountyID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) CreateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.BountyID]; ok {
		return ErrDisputeExists
	}
	cp := *d
	m.disputes[d.BountyID] = &cp
	return nil
}

func (m *MemoryStore) GetDispute(ctx context.Context, bountyID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[bountyID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.BountyID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	m.disputes[d.BountyID] = &cp
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context, user string) (*UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &UserStats{User: user}
	for _, b := range m.bounties {
		if b.Creator == user {
			stats.Created++
		}
		if b.Acceptor == user {
			stats.Accepted++
		}
		if b.Status != StatusCompleted || !b.IsParticipant(user) {
			continue
		}
		if b.Winner == user {
			stats.Won++
			stats.TotalEarnings += b.PayoutAmount
		} else if b.Winner != "" {
			stats.Lost++
		}
		if b.Creator == user && b.Winner != "" {
			stats.TotalWagered += b.StakeAmount
		}
	}
	stats.computeWinRate()
	return stats, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
