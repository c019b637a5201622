package triggers

import (
	"strconv"
	"sync"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// State is the lifecycle position of a trigger machine.
type State int

const (
	StateIdle State = iota
	StatePrimed
	StateFired
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrimed:
		return "primed"
	case StateFired:
		return "fired"
	case StateCooldown:
		return "cooldown"
	}
	return "unknown"
}

// Config holds the common trigger parameters.
type Config struct {
	RequiredConfirmations int
	Cooldown              time.Duration
}

// DefaultConfig matches the production defaults: fire on the first passing
// evaluation, 5 minute re-fire suppression.
func DefaultConfig() Config {
	return Config{RequiredConfirmations: 1, Cooldown: 5 * time.Minute}
}

// Candidate is a rule's proposed setup before the state machine gates it.
type Candidate struct {
	Direction  string
	Confidence float64
	EntryLow   float64
	EntryHigh  float64
	Stop       float64
	Ctx        map[string]any
}

// Firing is an emitted trigger event.
type Firing struct {
	RuleID     string
	Symbol     string
	Timeframe  string
	Direction  string
	Confidence float64
	EntryLow   float64
	EntryHigh  float64
	Stop       float64
	TS         int64
	BarSeq     int64
	Ctx        map[string]any
}

// EvalContext is what a rule sees on each finalized bar: the trailing window
// (oldest first, newest last) plus session-scoped aggregates.
type EvalContext struct {
	Window        []models.Bar
	SessionAvgVol float64
	ORBReady      bool
	ORBHigh       float64
	ORBLow        float64
}

// Rule evaluates setup conditions over the most recent finalized bars.
type Rule interface {
	ID() string
	Evaluate(ec EvalContext) (Candidate, bool)
}

// machine advances one rule through idle -> primed -> fired -> cooldown.
type machine struct {
	rule       Rule
	cfg        Config
	state      State
	hysteresis int
	lastFired  int64
}

// advance feeds one evaluation into the state machine and returns a Firing
// when the rule fires on this bar.
func (m *machine) advance(ec EvalContext, nowMs int64) *Firing {
	if m.state == StateCooldown || m.state == StateFired {
		if nowMs-m.lastFired < m.cfg.Cooldown.Milliseconds() {
			return nil
		}
		m.state = StateIdle
		m.hysteresis = 0
	}

	cand, ok := m.rule.Evaluate(ec)
	if !ok {
		m.state = StateIdle
		m.hysteresis = 0
		return nil
	}

	m.hysteresis++
	if m.hysteresis < m.cfg.RequiredConfirmations {
		m.state = StatePrimed
		return nil
	}

	m.state = StateCooldown
	m.hysteresis = 0
	m.lastFired = nowMs

	last := ec.Window[len(ec.Window)-1]
	return &Firing{
		RuleID:     m.rule.ID(),
		Symbol:     last.Symbol,
		Timeframe:  last.Timeframe,
		Direction:  cand.Direction,
		Confidence: clamp01(cand.Confidence),
		EntryLow:   cand.EntryLow,
		EntryHigh:  cand.EntryHigh,
		Stop:       cand.Stop,
		TS:         nowMs,
		BarSeq:     last.Seq,
		Ctx:        cand.Ctx,
	}
}

// windowSize is how many finalized bars the rules look back over.
const windowSize = 8

// calloutTTL suppresses duplicate callouts for the same (symbol, setup,
// coarse minute) even across rule cooldown edges.
const calloutTTL = 60 * time.Second

// Set runs the full trigger family for one symbol at the 1m timeframe.
// OnBar is called by the per-symbol pipeline writer; internal state is
// guarded so States can be read elsewhere.
type Set struct {
	symbol string
	onFire func(Firing)
	nowMs  func() int64

	mu       sync.Mutex
	machines []*machine
	window   []models.Bar

	sessionStart int64
	orbHigh      float64
	orbLow       float64
	orbCount     int
	sessVolSum   float64
	sessVolN     int

	callouts map[string]int64 // key -> expiry ms
}

// NewSet creates the standard trigger set (VWAP reclaim/reject, ORB, EMA
// pullback) for symbol. onFire receives every de-duplicated firing.
func NewSet(symbol string, cfg Config, onFire func(Firing)) *Set {
	if cfg.RequiredConfirmations < 1 {
		cfg.RequiredConfirmations = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	rules := []Rule{
		VWAPReclaim{},
		VWAPReject{},
		ORBBreakout{},
		EMAPullback{},
	}
	s := &Set{
		symbol:   symbol,
		onFire:   onFire,
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		callouts: make(map[string]int64),
	}
	for _, r := range rules {
		s.machines = append(s.machines, &machine{rule: r, cfg: cfg, state: StateIdle})
	}
	return s
}

// SetClock overrides the wall clock, for tests and replay.
func (s *Set) SetClock(nowMs func() int64) { s.nowMs = nowMs }

// OnBar feeds one finalized 1m bar (with its indicator snapshot) through
// every rule machine.
func (s *Set) OnBar(b models.Bar) {
	s.mu.Lock()

	s.rollSession(b)
	s.window = append(s.window, b)
	if len(s.window) > windowSize {
		s.window = s.window[1:]
	}

	ec := EvalContext{
		Window:   s.window,
		ORBReady: s.orbCount >= 2,
		ORBHigh:  s.orbHigh,
		ORBLow:   s.orbLow,
	}
	if s.sessVolN > 0 {
		ec.SessionAvgVol = s.sessVolSum / float64(s.sessVolN)
	}

	now := s.nowMs()
	var fired []Firing
	for _, m := range s.machines {
		if f := m.advance(ec, now); f != nil && s.admitCallout(f, now) {
			fired = append(fired, *f)
		}
	}
	s.mu.Unlock()

	for _, f := range fired {
		s.onFire(f)
	}
}

// rollSession resets session aggregates at each RTH open and maintains the
// opening range from the first two session bars.
func (s *Set) rollSession(b models.Bar) {
	ss := market.SessionStartMs(b.BarStart)
	if b.BarStart >= ss && ss != s.sessionStart {
		s.sessionStart = ss
		s.orbCount = 0
		s.orbHigh = 0
		s.orbLow = 0
		s.sessVolSum = 0
		s.sessVolN = 0
	}
	if b.BarStart < ss {
		return // pre-session bar, not part of the opening range
	}

	s.sessVolSum += b.Volume
	s.sessVolN++

	if s.orbCount < 2 {
		if s.orbCount == 0 || b.High > s.orbHigh {
			s.orbHigh = b.High
		}
		if s.orbCount == 0 || b.Low < s.orbLow {
			s.orbLow = b.Low
		}
		s.orbCount++
	}
}

// admitCallout applies the short de-duplication cache on top of per-rule
// cooldowns: at most one callout per (symbol, setup, coarse minute) per TTL.
func (s *Set) admitCallout(f *Firing, nowMs int64) bool {
	for k, exp := range s.callouts {
		if exp <= nowMs {
			delete(s.callouts, k)
		}
	}
	key := f.Symbol + "|" + f.RuleID + "|" + strconv.FormatInt(f.TS/60_000, 10)
	if _, dup := s.callouts[key]; dup {
		return false
	}
	s.callouts[key] = nowMs + calloutTTL.Milliseconds()
	return true
}

// States reports each rule's machine state, keyed by rule id.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.machines))
	for _, m := range s.machines {
		out[m.rule.ID()] = m.state
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
