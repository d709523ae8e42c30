package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAll_Empty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	require.True(t, healthy)
	require.Empty(t, statuses)
}

func TestCheckAll_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("sweeper", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	require.True(t, healthy)
	require.Len(t, statuses, 2)
	require.Equal(t, "database", statuses[0].Name, "registry stamps names in registration order")
}

func TestCheckAll_OneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Healthy: false, Detail: "connection refused"}
	})
	r.Register("sweeper", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	require.False(t, healthy, "one failing subsystem fails the aggregate")
	require.Len(t, statuses, 2)
	require.Equal(t, "connection refused", statuses[0].Detail)
}

func TestRegister_ReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", Flag(func() bool { return false }, "down"))
	r.Register("sweeper", Flag(func() bool { return true }, ""))
	r.Register("database", Flag(func() bool { return true }, ""))

	healthy, statuses := r.CheckAll(context.Background())
	require.True(t, healthy, "replacement checker wins")
	require.Len(t, statuses, 2)
	require.Equal(t, "database", statuses[0].Name)
	require.Equal(t, "sweeper", statuses[1].Name)
}

func TestPing(t *testing.T) {
	ok := Ping(func(ctx context.Context) error { return nil })
	require.True(t, ok(context.Background()).Healthy)

	bad := Ping(func(ctx context.Context) error { return errors.New("connection refused") })
	st := bad(context.Background())
	require.False(t, st.Healthy)
	require.Equal(t, "connection refused", st.Detail)
}

func TestFlag(t *testing.T) {
	var up atomic.Bool
	check := Flag(up.Load, "sweep loop not running")

	st := check(context.Background())
	require.False(t, st.Healthy)
	require.Equal(t, "sweep loop not running", st.Detail)

	up.Store(true)
	require.True(t, check(context.Background()).Healthy)
}
