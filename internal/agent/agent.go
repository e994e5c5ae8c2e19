// Package agent defines the trading agents and the supervisor that keeps
// them alive.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Agent is one independently supervised worker. Run blocks until ctx is
// done or the agent fails; HealthCheck must be cheap and safe to call from
// another goroutine; Stop releases resources and is idempotent.
type Agent interface {
	Name() string
	Run(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory builds a fresh agent instance. The supervisor calls it at startup
// and again on every restart, so factories must not share mutable state
// between instances beyond the injected collaborators.
type Factory func() (Agent, error)

// heartbeat tracks liveness for loop-driven agents.
type heartbeat struct {
	mu   sync.Mutex
	last time.Time
}

func (h *heartbeat) beat() {
	h.mu.Lock()
	h.last = time.Now()
	h.mu.Unlock()
}

func (h *heartbeat) check(maxAge time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last.IsZero() {
		return fmt.Errorf("no heartbeat yet")
	}
	if age := time.Since(h.last); age > maxAge {
		return fmt.Errorf("last heartbeat %s ago", age.Round(time.Millisecond))
	}
	return nil
}

// running tracks liveness for subscription-driven agents, which may
// legitimately sit idle between messages.
type running struct {
	mu sync.Mutex
	on bool
}

func (r *running) set(on bool) {
	r.mu.Lock()
	r.on = on
	r.mu.Unlock()
}

func (r *running) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.on {
		return fmt.Errorf("not running")
	}
	return nil
}
