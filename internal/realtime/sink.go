package realtime

import "github.com/kalebvo/stakeduel/internal/bounty"

// BountySink adapts the hub to the bounty service's EventSink interface.
type BountySink struct {
	hub *Hub
}

// NewBountySink creates a sink broadcasting bounty events through the hub.
func NewBountySink(hub *Hub) *BountySink {
	return &BountySink{hub: hub}
}

func (s *BountySink) BountyEvent(event string, b *bounty.Bounty) {
	s.hub.BroadcastBounty(event, map[string]interface{}{
		"id":          b.ID,
		"creator":     b.Creator,
		"acceptor":    b.Acceptor,
		"winner":      b.Winner,
		"stakeAmount": float64(b.StakeAmount), // matches JSON number round-trip in filters
		"status":      string(b.Status),
		"gameRef":     b.GameRef,
	})
}

// Compile-time assertion that BountySink implements bounty.EventSink.
var _ bounty.EventSink = (*BountySink)(nil)
