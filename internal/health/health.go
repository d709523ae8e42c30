// Package health aggregates per-subsystem probes for the /health endpoint.
// The server registers one checker per dependency it actually carries: a
// database ping when Postgres backs the stores, the sweeper's liveness flag
// once the sweep loop starts. The aggregate is healthy only when every
// registered subsystem is.
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's probe result.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one subsystem.
type Checker func(ctx context.Context) Status

// Registry runs registered checkers on demand, in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	checks map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a checker under name. Re-registering a name replaces the
// checker but keeps its original position in the report.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checks[name]; !ok {
		r.order = append(r.order, name)
	}
	r.checks[name] = check
}

// CheckAll runs every checker and returns the aggregate plus the individual
// results. The registry fills in each Status name, so checkers only report
// Healthy and Detail.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(order))
	for _, name := range order {
		st := checks[name](ctx)
		st.Name = name
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}

// Ping adapts a connection-style ping into a checker. The database check is
// the primary user.
func Ping(ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}

// Flag adapts a liveness flag into a checker, reporting downDetail while the
// flag is false. Background workers like the expiry sweeper register this.
func Flag(up func() bool, downDetail string) Checker {
	return func(context.Context) Status {
		if !up() {
			return Status{Healthy: false, Detail: downDetail}
		}
		return Status{Healthy: true}
	}
}
