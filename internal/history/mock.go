package history

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// MockGenerator produces deterministic synthetic 1m bars for debugging when
// no vendor data is available. Each bar is derived solely from (symbol, seq),
// so overlapping queries always agree bar-for-bar.
type MockGenerator struct {
	basePrice float64
}

// NewMockGenerator creates a generator around a base price level.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{basePrice: 100}
}

// Generate1m returns the 1m bars with bar_start in [fromMs, toMs], capped at
// limit (trailing bars win).
func (g *MockGenerator) Generate1m(symbol string, fromMs, toMs int64, limit int) []models.Bar {
	firstSeq := (fromMs + 59_999) / 60_000
	lastSeq := toMs / 60_000
	if lastSeq < firstSeq {
		return nil
	}
	if limit > 0 && lastSeq-firstSeq+1 > int64(limit) {
		firstSeq = lastSeq - int64(limit) + 1
	}

	bars := make([]models.Bar, 0, lastSeq-firstSeq+1)
	for seq := firstSeq; seq <= lastSeq; seq++ {
		bars = append(bars, g.bar(symbol, seq))
	}
	return bars
}

// bar synthesizes one OHLCV bar. A slow sine wave supplies the trend and
// noise drawn from a per-(symbol, seq) seed supplies the rest; each bar's
// noise is independent of its neighbours.
func (g *MockGenerator) bar(symbol string, seq int64) models.Bar {
	rng := rand.New(rand.NewSource(seed(symbol, seq)))

	base := g.basePrice * (1 + 0.5*float64(symbolOffset(symbol))/100)
	trend := base * 0.01 * math.Sin(float64(seq%390)/390*2*math.Pi)
	mid := base + trend + rng.NormFloat64()*base*0.0008

	spread := base * (0.0005 + 0.0015*rng.Float64())
	open := mid + (rng.Float64()-0.5)*spread
	close := mid + (rng.Float64()-0.5)*spread
	high := math.Max(open, close) + rng.Float64()*spread/2
	low := math.Min(open, close) - rng.Float64()*spread/2
	volume := math.Floor(5_000 + rng.Float64()*45_000)

	barStart := seq * 60_000
	return models.Bar{
		Symbol:    symbol,
		Timeframe: models.TF1m.Label,
		Seq:       seq,
		BarStart:  barStart,
		BarEnd:    barStart + 60_000,
		Open:      round2(open),
		High:      round2(high),
		Low:       round2(low),
		Close:     round2(close),
		Volume:    volume,
	}
}

func seed(symbol string, seq int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64() ^ (uint64(seq) * 0x9E3779B97F4A7C15))
}

func symbolOffset(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
