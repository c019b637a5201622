package feed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

const (
	simTickInterval = 250 * time.Millisecond
	simDailyVol     = 0.02
	simTicksPerDay  = 86_400 * 4 // ticks at the sim cadence over a day
)

// Simulator is a deterministic random-walk trade feed, used when no vendor
// is configured so the whole pipeline runs self-contained. Prices follow a
// GBM step per tick; volume is drawn log-uniform.
type Simulator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]float64
	symbols map[string]bool
	out     chan models.Tick
}

// NewSimulator creates a simulator. A zero seed derives one from the clock.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		rng:     rand.New(rand.NewSource(seed)),
		prices:  make(map[string]float64),
		symbols: make(map[string]bool),
		out:     make(chan models.Tick, 1024),
	}
}

// Subscribe adds symbols to the simulated universe.
func (s *Simulator) Subscribe(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		if !s.symbols[sym] {
			s.symbols[sym] = true
			s.prices[sym] = basePrice(sym)
		}
	}
}

// Unsubscribe removes symbols from the simulated universe.
func (s *Simulator) Unsubscribe(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		delete(s.symbols, sym)
	}
}

// Ticks yields the simulated trade prints.
func (s *Simulator) Ticks() <-chan models.Tick { return s.out }

// Start runs the tick loop until ctx is cancelled.
func (s *Simulator) Start(ctx context.Context) error {
	ticker := time.NewTicker(simTickInterval)
	defer ticker.Stop()
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.emitRound(time.Now().UnixMilli())
		}
	}
}

func (s *Simulator) emitRound(nowMs int64) {
	s.mu.Lock()
	ticks := make([]models.Tick, 0, len(s.symbols))
	for sym := range s.symbols {
		price := s.step(sym)
		size := math.Floor(math.Exp(s.rng.Float64()*4) * 10) // ~10..550 shares
		side := "buy"
		if s.rng.Float64() < 0.5 {
			side = "sell"
		}
		ticks = append(ticks, models.Tick{
			Symbol: sym,
			TS:     nowMs,
			Price:  price,
			Size:   size,
			Side:   side,
		})
	}
	s.mu.Unlock()

	for _, t := range ticks {
		select {
		case s.out <- t:
		default:
			// Consumer stalled; drop rather than block the generator.
		}
	}
}

// step advances one symbol's price by a GBM increment, snapped to cents.
func (s *Simulator) step(sym string) float64 {
	price := s.prices[sym]
	tickVol := simDailyVol / math.Sqrt(simTicksPerDay)
	price *= math.Exp(tickVol * s.rng.NormFloat64())
	price = math.Round(price*100) / 100
	if price < 0.01 {
		price = 0.01
	}
	s.prices[sym] = price
	return price
}

// basePrice derives a stable starting price per symbol.
func basePrice(sym string) float64 {
	h := fnv.New32a()
	h.Write([]byte(sym))
	return 50 + float64(h.Sum32()%400)
}
