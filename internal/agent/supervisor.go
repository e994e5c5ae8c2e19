package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/notify"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/portfolio"
)

const (
	// digestInterval is how often the supervisor sends a status digest.
	digestInterval = 4 * time.Hour

	// healthCheckTimeout bounds one health probe.
	healthCheckTimeout = 5 * time.Second

	// stopGrace is how long agents get to stop before shutdown gives up
	// on them.
	stopGrace = 30 * time.Second
)

type registration struct {
	name    string
	factory Factory
}

// managed wraps one live agent. restarting guards against overlapping
// restarts of the same agent; recentErrors counts failed health checks
// since the previous digest.
type managed struct {
	name    string
	factory Factory

	mu          sync.Mutex
	agent       Agent
	lastChecked time.Time
	lastHealth  error

	restarting   atomic.Bool
	restarts     atomic.Int64
	recentErrors atomic.Int64
}

func (m *managed) current() Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent
}

func (m *managed) recordCheck(when time.Time, err error) {
	m.mu.Lock()
	m.lastChecked = when
	m.lastHealth = err
	m.mu.Unlock()
	if err != nil {
		m.recentErrors.Add(1)
	}
}

func (m *managed) lastCheck() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChecked, m.lastHealth
}

// Supervisor builds agents from their factories, watches their health and
// restarts the ones that fail. One supervisor per process.
type Supervisor struct {
	interval time.Duration
	notifier notify.Sink
	ledger   *portfolio.Ledger
	log      *zap.Logger

	registry []registration
	managed  []*managed

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
	once      sync.Once
}

// NewSupervisor creates an empty supervisor checking health every interval.
// The ledger is only read, for digests.
func NewSupervisor(interval time.Duration, ledger *portfolio.Ledger, notifier notify.Sink, log *zap.Logger) *Supervisor {
	return &Supervisor{
		interval: interval,
		notifier: notifier,
		ledger:   ledger,
		log:      log.Named("supervisor"),
	}
}

// Register adds an agent factory. Agents start in registration order.
func (s *Supervisor) Register(name string, factory Factory) {
	s.registry = append(s.registry, registration{name: name, factory: factory})
}

// Start builds every registered agent and launches it. Any factory failure
// aborts startup: a system missing an agent must not trade.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()

	for _, reg := range s.registry {
		a, err := reg.factory()
		if err != nil {
			s.cancel()
			return fmt.Errorf("start agent %s: %w", reg.name, err)
		}
		m := &managed{name: reg.name, factory: reg.factory, agent: a}
		s.managed = append(s.managed, m)
		s.launch(m, a)
		s.log.Info("agent started", zap.String("agent", reg.name))
	}

	s.wg.Add(2)
	go s.healthLoop()
	go s.digestLoop()

	if s.notifier != nil {
		_ = s.notifier.Send(s.ctx, fmt.Sprintf("🚀 Trading system started with %d agents", len(s.managed)))
	}
	return nil
}

// Shutdown stops everything exactly once. Agents get stopGrace to finish;
// stragglers are logged and abandoned.
func (s *Supervisor) Shutdown(reason string) {
	s.once.Do(func() {
		s.log.Info("shutting down", zap.String("reason", reason))
		s.cancel()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopGrace)
		defer stopCancel()
		for _, m := range s.managed {
			a := m.current()
			if err := a.Stop(stopCtx); err != nil {
				s.log.Warn("agent stop failed", zap.String("agent", m.name), zap.Error(err))
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.log.Info("all agents stopped")
		case <-time.After(stopGrace):
			s.log.Error("shutdown grace period expired, abandoning remaining agents")
		}

		if s.notifier != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.notifier.Send(ctx, fmt.Sprintf("🛑 Trading system stopped: %s", reason))
		}
	})
}

func (s *Supervisor) launch(m *managed, a Agent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("agent panicked",
					zap.String("agent", m.name),
					zap.Any("panic", r))
			}
		}()
		if err := a.Run(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error("agent exited with error", zap.String("agent", m.name), zap.Error(err))
		}
	}()
}

func (s *Supervisor) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, m := range s.managed {
				s.checkAgent(m)
			}
		}
	}
}

func (s *Supervisor) checkAgent(m *managed) {
	ctx, cancel := context.WithTimeout(s.ctx, healthCheckTimeout)
	defer cancel()

	err := m.current().HealthCheck(ctx)
	m.recordCheck(time.Now(), err)
	if err == nil {
		return
	}
	s.log.Warn("agent unhealthy", zap.String("agent", m.name), zap.Error(err))

	// At most one restart in flight per agent.
	if !m.restarting.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer m.restarting.Store(false)
		s.restartAgent(m, err)
	}()
}

func (s *Supervisor) restartAgent(m *managed, cause error) {
	old := m.current()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if err := old.Stop(stopCtx); err != nil {
		s.log.Warn("stopping unhealthy agent failed", zap.String("agent", m.name), zap.Error(err))
	}

	fresh, err := m.factory()
	if err != nil {
		s.log.Error("agent restart failed", zap.String("agent", m.name), zap.Error(err))
		if s.notifier != nil {
			_ = s.notifier.Send(s.ctx, fmt.Sprintf("❌ Agent %s could not be restarted: %v", m.name, err))
		}
		return
	}

	m.mu.Lock()
	m.agent = fresh
	m.mu.Unlock()
	s.launch(m, fresh)

	n := m.restarts.Add(1)
	s.log.Info("agent restarted",
		zap.String("agent", m.name),
		zap.Int64("restart_count", n),
		zap.NamedError("cause", cause))
	if s.notifier != nil {
		_ = s.notifier.Send(s.ctx, fmt.Sprintf("🔄 Agent %s restarted (count %d): %v", m.name, n, cause))
	}
}

func (s *Supervisor) digestLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(digestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			digest := s.buildDigest()
			s.log.Info("status digest", zap.String("digest", digest))
			if s.notifier != nil {
				_ = s.notifier.Send(s.ctx, digest)
			}
		}
	}
}

func (s *Supervisor) buildDigest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Status digest\nUptime: %s\n", time.Since(s.startedAt).Round(time.Second))

	healthy := 0
	for _, m := range s.managed {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		err := m.current().HealthCheck(ctx)
		cancel()
		m.recordCheck(time.Now(), err)
		state := "ok"
		if err != nil {
			state = "unhealthy"
		} else {
			healthy++
		}
		checked, _ := m.lastCheck()
		// The counter resets each digest, so it reads as errors since the
		// previous one.
		fmt.Fprintf(&b, "  %s: %s (restarts %d, recent errors %d, last check %s ago)\n",
			m.name, state, m.restarts.Load(), m.recentErrors.Swap(0),
			time.Since(checked).Round(time.Second))
	}
	fmt.Fprintf(&b, "Agents healthy: %d/%d\n", healthy, len(s.managed))

	if s.ledger != nil {
		m := s.ledger.ComputeMetrics()
		fmt.Fprintf(&b, "Equity: %.2f | Available: %.2f | Open positions: %d\n",
			m.Equity, m.Available, m.OpenPositions)
		fmt.Fprintf(&b, "Daily PnL: %.2f | Realized PnL: %.2f | Unrealized PnL: %.2f\n",
			s.ledger.DailyPnL(), m.RealizedPnL, m.UnrealizedPnL)
		fmt.Fprintf(&b, "Win rate: %.1f%% (%d trades)", m.WinRate*100, m.ClosedTrades)
	}
	return b.String()
}
