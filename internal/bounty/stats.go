package bounty

import "context"

// UserStats aggregates a user's bounty record. Counters cover settled
// bounties only: Won and Lost count COMPLETED bounties with a winner (VOID
// resolutions have none and count toward neither), TotalEarnings sums
// payouts received, and TotalWagered sums stakes the user put at risk on
// bounties that settled.
type UserStats struct {
	User          string  `json:"user"`
	Created       int     `json:"created"`
	Accepted      int     `json:"accepted"`
	Won           int     `json:"won"`
	Lost          int     `json:"lost"`
	WinRate       float64 `json:"winRate"`
	TotalEarnings int64   `json:"totalEarnings"`
	TotalWagered  int64   `json:"totalWagered"`
}

// computeWinRate fills WinRate from Won and Lost. Zero settled bounties
// yield a zero rate, not NaN.
func (u *UserStats) computeWinRate() {
	if settled := u.Won + u.Lost; settled > 0 {
		u.WinRate = float64(u.Won) / float64(settled)
	}
}

// GetUserStats returns the user's aggregated bounty record.
func (s *Service) GetUserStats(ctx context.Context, user string) (*UserStats, error) {
	if user == "" {
		return nil, ErrValidation
	}
	return s.store.Stats(ctx, user)
}
