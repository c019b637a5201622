package signals

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bus"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/triggers"
)

// Config bounds outbound signal emission.
type Config struct {
	MaxConcurrentSignals int
	MaxRiskBudget        float64 // exposure fraction ceiling
	RiskPerSignal        float64 // exposure each active signal consumes
	ThrottleWindow       time.Duration
}

// DefaultConfig returns the production governor limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSignals: 3,
		MaxRiskBudget:        0.06,
		RiskPerSignal:        0.02,
		ThrottleWindow:       5 * time.Minute,
	}
}

// Governor gates trigger firings before they become signal:new events. Each
// admission decision runs in a single critical section; admitted signals stay
// active until released.
type Governor struct {
	cfg Config
	bus *bus.Bus

	mu       sync.Mutex
	active   map[string]models.Signal // id -> signal
	throttle map[string]int64         // ruleId|barSeq -> expiry ms
	nowMs    func() int64
}

// NewGovernor creates a governor publishing admitted signals on b.
func NewGovernor(cfg Config, b *bus.Bus) *Governor {
	if cfg.MaxConcurrentSignals <= 0 {
		cfg.MaxConcurrentSignals = 3
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = 5 * time.Minute
	}
	return &Governor{
		cfg:      cfg,
		bus:      b,
		active:   make(map[string]models.Signal),
		throttle: make(map[string]int64),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the wall clock, for tests.
func (g *Governor) SetClock(nowMs func() int64) { g.nowMs = nowMs }

// Admit applies the throttle, concurrency and risk-budget gates to a trigger
// firing. On admission the signal is registered active and published as
// signal:new; the returned bool reports the decision.
func (g *Governor) Admit(f triggers.Firing) (models.Signal, bool) {
	now := g.nowMs()
	key := f.RuleID + "|" + strconv.FormatInt(f.BarSeq, 10)

	g.mu.Lock()
	for k, exp := range g.throttle {
		if exp <= now {
			delete(g.throttle, k)
		}
	}
	if _, dup := g.throttle[key]; dup {
		g.mu.Unlock()
		slog.Debug("governor: throttled", "rule", f.RuleID, "bar_seq", f.BarSeq)
		return models.Signal{}, false
	}
	if len(g.active) >= g.cfg.MaxConcurrentSignals {
		g.mu.Unlock()
		slog.Debug("governor: concurrency limit", "rule", f.RuleID, "active", g.cfg.MaxConcurrentSignals)
		return models.Signal{}, false
	}
	if exposure := float64(len(g.active)) * g.cfg.RiskPerSignal; exposure >= g.cfg.MaxRiskBudget {
		g.mu.Unlock()
		slog.Debug("governor: risk budget", "rule", f.RuleID, "exposure", exposure)
		return models.Signal{}, false
	}

	sig := models.Signal{
		ID:         uuid.NewString(),
		Symbol:     f.Symbol,
		Timeframe:  f.Timeframe,
		RuleID:     f.RuleID,
		Direction:  f.Direction,
		Confidence: f.Confidence,
		TS:         f.TS,
		BarSeq:     f.BarSeq,
		Ctx:        f.Ctx,
	}
	g.active[sig.ID] = sig
	g.throttle[key] = now + g.cfg.ThrottleWindow.Milliseconds()
	g.mu.Unlock()

	slog.Info("signal admitted", "id", sig.ID, "rule", sig.RuleID, "symbol", sig.Symbol, "direction", sig.Direction)
	g.bus.Publish(bus.TopicSignalNew, sig)
	return sig, true
}

// Release drops a signal from the active set. Unknown ids are a no-op.
func (g *Governor) Release(id string) {
	g.mu.Lock()
	delete(g.active, id)
	g.mu.Unlock()
}

// ActiveCount reports the number of registered active signals.
func (g *Governor) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// Active returns a copy of the active signal set.
func (g *Governor) Active() []models.Signal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Signal, 0, len(g.active))
	for _, s := range g.active {
		out = append(out, s)
	}
	return out
}
