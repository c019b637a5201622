package indicators

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

const tolerance = 1e-8

func relDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	d := math.Abs(a - b)
	if m := math.Max(math.Abs(a), math.Abs(b)); m > 0 {
		return d / m
	}
	return d
}

func TestEMAUndefinedDuringWarmup(t *testing.T) {
	e := NewEMA(3)
	e.Next(10)
	e.Next(11)
	if _, ok := e.Value(); ok {
		t.Fatal("EMA defined before warmup completed")
	}
	e.Next(12)
	v, ok := e.Value()
	if !ok {
		t.Fatal("EMA undefined after warmup")
	}
	if v != 11 { // SMA seed of 10, 11, 12
		t.Fatalf("SMA seed = %v, want 11", v)
	}
}

func TestEMAStep(t *testing.T) {
	e := NewEMA(3) // k = 0.5
	for _, c := range []float64{10, 11, 12} {
		e.Next(c)
	}
	e.Next(13)
	v, _ := e.Value()
	if v != 12 { // 11 + 0.5*(13-11)
		t.Fatalf("EMA after step = %v, want 12", v)
	}
}

func TestEMAInitFromHistoryMatchesReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	closes := make([]float64, 500)
	price := 100.0
	for i := range closes {
		price *= math.Exp(rng.NormFloat64() * 0.002)
		closes[i] = price
	}

	for _, period := range []int{9, 21, 50, 200} {
		a := NewEMA(period)
		a.InitFromHistory(closes)

		b := NewEMA(period)
		for _, c := range closes {
			b.Next(c)
		}

		next := closes[len(closes)-1] * 1.001
		a.Next(next)
		b.Next(next)

		av, aok := a.Value()
		bv, bok := b.Value()
		if aok != bok {
			t.Fatalf("period %d: readiness mismatch", period)
		}
		if aok && relDiff(av, bv) > tolerance {
			t.Fatalf("period %d: diverged %v vs %v", period, av, bv)
		}
	}
}

func TestBollingerValues(t *testing.T) {
	b := NewBollinger(4, 2)
	for _, c := range []float64{1, 2, 3} {
		b.Next(c)
	}
	if _, _, _, ok := b.Value(); ok {
		t.Fatal("bollinger defined before ring full")
	}
	b.Next(4)
	mid, upper, lower, ok := b.Value()
	if !ok {
		t.Fatal("bollinger undefined with full ring")
	}
	if mid != 2.5 {
		t.Fatalf("mid = %v, want 2.5", mid)
	}
	sd := math.Sqrt((1.5*1.5 + 0.5*0.5 + 0.5*0.5 + 1.5*1.5) / 4)
	if relDiff(upper, 2.5+2*sd) > tolerance || relDiff(lower, 2.5-2*sd) > tolerance {
		t.Fatalf("bands = %v / %v", upper, lower)
	}
}

func TestBollingerInitFromHistoryMatchesReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 100 + rng.Float64()*10
	}

	a := NewBollinger(20, 2)
	a.InitFromHistory(closes)
	b := NewBollinger(20, 2)
	for _, c := range closes {
		b.Next(c)
	}
	a.Next(105)
	b.Next(105)

	am, au, al, _ := a.Value()
	bm, bu, bl, _ := b.Value()
	if relDiff(am, bm) > tolerance || relDiff(au, bu) > tolerance || relDiff(al, bl) > tolerance {
		t.Fatalf("bollinger diverged: %v/%v/%v vs %v/%v/%v", am, au, al, bm, bu, bl)
	}
}

func TestVWAPAccumulationAndReset(t *testing.T) {
	v := NewSessionVWAP(1000)
	if _, ok := v.Value(); ok {
		t.Fatal("VWAP defined with no volume")
	}
	v.Next(101, 99, 100, 10)  // tp = 100
	v.Next(103, 101, 102, 20) // tp = 102
	got, ok := v.Value()
	if !ok {
		t.Fatal("VWAP undefined after volume")
	}
	want := (100*10 + 102*20) / 30.0
	if relDiff(got, want) > tolerance {
		t.Fatalf("vwap = %v, want %v", got, want)
	}

	v.Reset(2000)
	if _, ok := v.Value(); ok {
		t.Fatal("VWAP should be undefined after session reset")
	}
	if v.SessionStart() != 2000 {
		t.Fatalf("session start = %d", v.SessionStart())
	}
}

func TestVolumeSMA(t *testing.T) {
	s := NewVolumeSMA(3)
	s.Next(10)
	s.Next(20)
	v, ok := s.Value()
	if !ok || v != 15 {
		t.Fatalf("partial window avg = %v ok=%v", v, ok)
	}
	s.Next(30)
	s.Next(40) // evicts 10
	v, _ = s.Value()
	if v != 30 {
		t.Fatalf("rolling avg = %v, want 30", v)
	}
}

func sessionBars(t *testing.T, n int) []models.Bar {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	start := time.Date(2024, time.June, 11, 9, 30, 0, 0, market.Eastern())
	price := 100.0
	out := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		price *= math.Exp(rng.NormFloat64() * 0.001)
		ms := start.Add(time.Duration(i) * time.Minute).UnixMilli()
		h := price * 1.001
		l := price * 0.999
		out = append(out, models.Bar{
			Symbol: "SPY", Timeframe: "1m",
			Seq: models.SeqForStart(ms), BarStart: ms, BarEnd: ms + 60_000,
			Open: price, High: h, Low: l, Close: price,
			Volume: 1000 + rng.Float64()*500,
		})
	}
	return out
}

func TestEngineInitFromHistoryMatchesReplay(t *testing.T) {
	hist := sessionBars(t, 250)

	a := NewEngine()
	a.InitFromHistory(hist[:249])
	snapA := a.OnBar(hist[249])

	b := NewEngine()
	var snapB models.IndicatorSnapshot
	for _, bar := range hist {
		snapB = b.OnBar(bar)
	}

	checks := []struct {
		name string
		x, y *float64
	}{
		{"vwap", snapA.VWAP, snapB.VWAP},
		{"ema9", snapA.EMA9, snapB.EMA9},
		{"ema21", snapA.EMA21, snapB.EMA21},
		{"ema200", snapA.EMA200, snapB.EMA200},
		{"boll_mid", snapA.BollMid, snapB.BollMid},
		{"vol_sma", snapA.VolSMA, snapB.VolSMA},
	}
	for _, c := range checks {
		if (c.x == nil) != (c.y == nil) {
			t.Fatalf("%s: definedness mismatch", c.name)
		}
		if c.x != nil && relDiff(*c.x, *c.y) > tolerance {
			t.Fatalf("%s: diverged %v vs %v", c.name, *c.x, *c.y)
		}
	}
}

func TestEngineResetsVWAPAtSessionOpen(t *testing.T) {
	et := market.Eastern()
	e := NewEngine()

	day1 := time.Date(2024, time.June, 11, 9, 30, 0, 0, et)
	for i := 0; i < 5; i++ {
		ms := day1.Add(time.Duration(i) * time.Minute).UnixMilli()
		e.OnBar(models.Bar{
			Symbol: "SPY", Seq: models.SeqForStart(ms), BarStart: ms, BarEnd: ms + 60_000,
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000,
		})
	}

	// First bar of the next session: VWAP must reflect only this bar.
	day2 := time.Date(2024, time.June, 12, 9, 30, 0, 0, et)
	ms := day2.UnixMilli()
	snap := e.OnBar(models.Bar{
		Symbol: "SPY", Seq: models.SeqForStart(ms), BarStart: ms, BarEnd: ms + 60_000,
		Open: 200, High: 202, Low: 198, Close: 200, Volume: 500,
	})
	if snap.VWAP == nil {
		t.Fatal("VWAP undefined after session open bar")
	}
	if relDiff(*snap.VWAP, 200) > tolerance {
		t.Fatalf("VWAP after reset = %v, want 200", *snap.VWAP)
	}
}
