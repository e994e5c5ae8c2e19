package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAgent struct {
	name string

	mu      sync.Mutex
	healthy bool

	stops atomic.Int64
}

func newFakeAgent(name string, healthy bool) *fakeAgent {
	return &fakeAgent{name: name, healthy: healthy}
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeAgent) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return errors.New("simulated failure")
	}
	return nil
}

func (f *fakeAgent) Stop(context.Context) error {
	f.stops.Add(1)
	return nil
}

func (f *fakeAgent) setHealthy(ok bool) {
	f.mu.Lock()
	f.healthy = ok
	f.mu.Unlock()
}

type fakeSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *fakeSink) Send(_ context.Context, text string) error {
	s.mu.Lock()
	s.messages = append(s.messages, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestSupervisorFactoryFailureAbortsStart(t *testing.T) {
	s := NewSupervisor(10*time.Millisecond, nil, nil, zap.NewNop())
	s.Register("good", func() (Agent, error) { return newFakeAgent("good", true), nil })
	s.Register("broken", func() (Agent, error) { return nil, errors.New("missing credentials") })

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSupervisorRestartsUnhealthyAgent(t *testing.T) {
	sink := &fakeSink{}
	s := NewSupervisor(10*time.Millisecond, nil, sink, zap.NewNop())

	var builds atomic.Int64
	s.Register("flaky", func() (Agent, error) {
		builds.Add(1)
		// The replacement comes up healthy.
		return newFakeAgent("flaky", builds.Load() > 1), nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown("test done")

	waitFor(t, func() bool { return builds.Load() >= 2 })
	waitFor(t, func() bool {
		for _, msg := range sink.snapshot() {
			if strings.Contains(msg, "restarted (count 1)") {
				return true
			}
		}
		return false
	})

	// The replacement is healthy, so no further restarts pile up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(2), builds.Load())
}

func TestSupervisorRestartStopsOldInstance(t *testing.T) {
	s := NewSupervisor(10*time.Millisecond, nil, nil, zap.NewNop())

	first := newFakeAgent("flaky", false)
	var builds atomic.Int64
	s.Register("flaky", func() (Agent, error) {
		if builds.Add(1) == 1 {
			return first, nil
		}
		return newFakeAgent("flaky", true), nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown("test done")

	waitFor(t, func() bool { return first.stops.Load() >= 1 })
}

func TestSupervisorShutdownIdempotent(t *testing.T) {
	sink := &fakeSink{}
	s := NewSupervisor(time.Hour, nil, sink, zap.NewNop())

	a := newFakeAgent("steady", true)
	s.Register("steady", func() (Agent, error) { return a, nil })

	require.NoError(t, s.Start(context.Background()))
	s.Shutdown("operator request")
	s.Shutdown("operator request")

	assert.Equal(t, int64(1), a.stops.Load(), "agents stop exactly once")

	stopped := 0
	for _, msg := range sink.snapshot() {
		if strings.Contains(msg, "stopped: operator request") {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped, "final notification sent exactly once")
}

func TestSupervisorDigestContents(t *testing.T) {
	s := NewSupervisor(time.Hour, nil, nil, zap.NewNop())
	s.Register("steady", func() (Agent, error) { return newFakeAgent("steady", true), nil })
	s.Register("shaky", func() (Agent, error) { return newFakeAgent("shaky", false), nil })

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown("test done")

	digest := s.buildDigest()
	assert.Contains(t, digest, "Uptime:")
	assert.Contains(t, digest, "steady: ok")
	assert.Contains(t, digest, "shaky: unhealthy")
	assert.Contains(t, digest, "Agents healthy: 1/2")
	assert.Contains(t, digest, "last check")
}

func TestSupervisorDigestCountsRecentErrors(t *testing.T) {
	s := NewSupervisor(time.Hour, nil, nil, zap.NewNop())
	s.Register("shaky", func() (Agent, error) { return newFakeAgent("shaky", false), nil })

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown("test done")

	// Two failed checks from the health loop plus the digest's own probe.
	for i := 0; i < 2; i++ {
		s.checkAgent(s.managed[0])
	}
	assert.Contains(t, s.buildDigest(), "recent errors 3")

	// The counter resets with each digest.
	assert.Contains(t, s.buildDigest(), "recent errors 1")
}
