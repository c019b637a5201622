package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bus"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/history"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// ErrNoBars is returned by Start when the requested window has no recorded
// bars to replay.
var ErrNoBars = errors.New("replay: no bars in requested window")

const (
	minStepInterval = 100 * time.Millisecond
	pulseDelay      = 120 * time.Millisecond
)

// Engine re-emits recorded 1m bars on the bus at a configurable speed. To
// downstream consumers its output is indistinguishable from the live feed:
// the same topics, the same seq values.
type Engine struct {
	bus     *bus.Bus
	history *history.Service

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	symbol string
	bars   []models.Bar
	idx    int
	speed  float64
	stop   chan struct{}
	once   sync.Once
}

// NewEngine creates a replay engine over the shared history service.
func NewEngine(b *bus.Bus, h *history.Service) *Engine {
	return &Engine{bus: b, history: h, sessions: make(map[string]*session)}
}

// Start loads 1m bars for [fromMs, toMs) and begins emitting them for
// symbol. An existing replay for the symbol is stopped first. The timer
// period is max(100ms, 60s/speed).
func (e *Engine) Start(ctx context.Context, symbol string, fromMs, toMs int64, speed float64) error {
	if speed <= 0 {
		speed = 1
	}
	limit := int((toMs-fromMs)/60_000) + 1
	if limit <= 0 {
		return fmt.Errorf("replay: empty window [%d, %d)", fromMs, toMs)
	}

	bars, err := e.history.GetHistory(ctx, history.Query{
		Symbol:    symbol,
		Timeframe: models.TF1m,
		Limit:     limit,
		Before:    toMs,
	})
	if err != nil {
		return fmt.Errorf("replay: load history: %w", err)
	}
	trimmed := bars[:0]
	for _, b := range bars {
		if b.BarStart >= fromMs && b.BarStart < toMs {
			trimmed = append(trimmed, b)
		}
	}
	if len(trimmed) == 0 {
		return ErrNoBars
	}

	e.Stop(symbol)

	s := &session{
		symbol: symbol,
		bars:   trimmed,
		speed:  speed,
		stop:   make(chan struct{}),
	}
	e.mu.Lock()
	e.sessions[symbol] = s
	e.mu.Unlock()

	go e.loop(s)
	slog.Info("replay: started", "symbol", symbol, "bars", len(trimmed), "speed", speed)
	return nil
}

// loop emits one bar per period until exhausted or stopped.
func (e *Engine) loop(s *session) {
	for {
		e.mu.Lock()
		if s.idx >= len(s.bars) {
			delete(e.sessions, s.symbol)
			e.mu.Unlock()
			slog.Info("replay: finished", "symbol", s.symbol)
			return
		}
		bar := s.bars[s.idx]
		s.idx++
		period := stepInterval(s.speed)
		e.mu.Unlock()

		e.emit(s, bar)

		select {
		case <-s.stop:
			return
		case <-time.After(period):
		}
	}
}

// emit publishes the bar's micro-bar pulse (mid then close) followed by the
// finalized bar, mirroring the live builder's event shape.
func (e *Engine) emit(s *session, bar models.Bar) {
	mid := (bar.High + bar.Low) / 2
	e.bus.Publish(bus.TopicMicroBar(s.symbol), models.MicroBar{
		Symbol: s.symbol,
		TS:     bar.BarStart + 30_000,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  mid,
		Volume: bar.Volume / 2,
	})

	select {
	case <-s.stop:
		return
	case <-time.After(pulseDelay):
	}

	e.bus.Publish(bus.TopicMicroBar(s.symbol), models.MicroBar{
		Symbol: s.symbol,
		TS:     bar.BarEnd - 1,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	})
	e.bus.Publish(bus.TopicBarNew(s.symbol, models.TF1m.Label), bar)
}

// Stop halts the symbol's replay. Idempotent; unknown symbols are a no-op.
func (e *Engine) Stop(symbol string) {
	e.mu.Lock()
	s := e.sessions[symbol]
	delete(e.sessions, symbol)
	e.mu.Unlock()
	if s != nil {
		s.once.Do(func() { close(s.stop) })
		slog.Info("replay: stopped", "symbol", symbol)
	}
}

// SetSpeed changes the playback rate, effective from the next tick.
func (e *Engine) SetSpeed(symbol string, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("replay: invalid speed %v", speed)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[symbol]
	if s == nil {
		return fmt.Errorf("replay: no active session for %s", symbol)
	}
	s.speed = speed
	return nil
}

// Active reports whether a replay is running for symbol.
func (e *Engine) Active(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[symbol] != nil
}

func stepInterval(speed float64) time.Duration {
	d := time.Duration(float64(time.Minute) / speed)
	if d < minStepInterval {
		d = minStepInterval
	}
	return d
}
