package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalebvo/stakeduel/internal/bounty"
	"github.com/kalebvo/stakeduel/internal/logging"
)

func bountyEvent(eventType string, data map[string]interface{}) *Event {
	return &Event{Type: eventType, Data: data}
}

func TestShouldSend_Filters(t *testing.T) {
	h := NewHub(logging.Discard())
	event := bountyEvent("bounty.created", map[string]interface{}{
		"creator":     "alice",
		"acceptor":    "bob",
		"stakeAmount": float64(500),
	})

	cases := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, true},
		{"matching type", Subscription{EventTypes: []string{"bounty.created"}}, true},
		{"wrong type", Subscription{EventTypes: []string{"bounty.completed"}}, false},
		{"watching creator", Subscription{Users: []string{"alice"}}, true},
		{"watching acceptor", Subscription{Users: []string{"bob"}}, true},
		{"watching stranger", Subscription{Users: []string{"carol"}}, false},
		{"stake above floor", Subscription{MinStake: 100}, true},
		{"stake below floor", Subscription{MinStake: 1000}, false},
		{"type and user both match", Subscription{
			EventTypes: []string{"bounty.created"}, Users: []string{"alice"}}, true},
		{"type matches but user does not", Subscription{
			EventTypes: []string{"bounty.created"}, Users: []string{"carol"}}, false},
		{"empty subscription matches everything", Subscription{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &Client{sub: tc.sub}
			require.Equal(t, tc.want, h.shouldSend(client, event))
		})
	}
}

func TestShouldSend_AllEventsOverridesFilters(t *testing.T) {
	h := NewHub(logging.Discard())
	client := &Client{sub: Subscription{
		AllEvents:  true,
		EventTypes: []string{"bounty.completed"},
		MinStake:   1_000_000,
	}}
	event := bountyEvent("bounty.created", map[string]interface{}{"stakeAmount": float64(100)})
	require.True(t, h.shouldSend(client, event))
}

func TestBountySink_EventShape(t *testing.T) {
	h := NewHub(logging.Discard())
	sink := NewBountySink(h)

	sink.BountyEvent("bounty.completed", &bounty.Bounty{
		ID: "bty_1", Creator: "alice", Acceptor: "bob", Winner: "bob",
		StakeAmount: 500, Status: bounty.StatusCompleted, GameRef: "chess-blitz",
	})

	select {
	case event := <-h.broadcast:
		require.Equal(t, "bounty.completed", event.Type)
		data, ok := event.Data.(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "bty_1", data["id"])
		require.Equal(t, "alice", data["creator"])
		require.Equal(t, "bob", data["winner"])
		require.Equal(t, float64(500), data["stakeAmount"], "stake is a float for filter parity")
		require.Equal(t, "COMPLETED", data["status"])
	default:
		t.Fatal("expected event on broadcast channel")
	}
}

func TestBroadcast_DropsWhenFull(t *testing.T) {
	h := NewHub(logging.Discard())
	// Hub loop not running: fill the buffered channel and overflow it.
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Broadcast(bountyEvent("bounty.created", nil))
	}
	require.Len(t, h.broadcast, cap(h.broadcast), "overflow must drop, not block")
}

func TestStats_Initial(t *testing.T) {
	h := NewHub(logging.Discard())
	stats := h.Stats()
	require.Equal(t, 0, stats["connectedClients"])
	require.Equal(t, int64(0), stats["totalEvents"])
}
