package bars

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// futureToleranceMs bounds how far ahead of wall clock a tick timestamp may
// run before it is clamped.
const futureToleranceMs = 2_000

// lateToleranceMs bounds how far behind the current bar a tick may be and
// still be counted as late rather than malformed.
const lateToleranceMs = 60_000

// Builder converts one symbol's trade stream into finalized 1m bars plus
// micro-bar snapshots of the in-progress bar. It never panics into the feed
// path: malformed input is counted and dropped.
//
// OnTick is called from the feed goroutine; Poll from the pipeline's
// micro-cadence timer. Both are safe to interleave.
type Builder struct {
	symbol  string
	onFinal func(models.Bar)
	onMicro func(models.MicroBar)
	nowMs   func() int64

	mu    sync.Mutex
	cur   *working
	dirty bool

	dropped atomic.Uint64
	late    atomic.Uint64
	clamped atomic.Uint64
}

type working struct {
	start, end int64
	o, h, l, c float64
	v          float64
	lastTS     int64
}

// NewBuilder creates a builder for symbol. onFinal receives each finalized 1m
// bar; onMicro receives in-progress snapshots at the poll cadence.
func NewBuilder(symbol string, onFinal func(models.Bar), onMicro func(models.MicroBar)) *Builder {
	return &Builder{
		symbol:  symbol,
		onFinal: onFinal,
		onMicro: onMicro,
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the wall clock, for tests and replay.
func (b *Builder) SetClock(nowMs func() int64) { b.nowMs = nowMs }

// OnTick folds a trade print into the in-progress bar, finalizing the prior
// bar when the tick crosses a minute boundary.
func (b *Builder) OnTick(t models.Tick) {
	if !t.Valid() || t.Symbol != b.symbol {
		b.dropped.Add(1)
		return
	}

	now := b.nowMs()
	if t.TS > now+futureToleranceMs {
		t.TS = now
		b.clamped.Add(1)
	}
	barStart := (t.TS / 60_000) * 60_000

	var finalized *models.Bar
	b.mu.Lock()
	switch {
	case b.cur == nil:
		b.cur = newWorking(barStart, t)
		b.dirty = true
	case barStart == b.cur.start:
		b.cur.apply(t)
		b.dirty = true
	case barStart > b.cur.start:
		fin := b.cur.finalize(b.symbol)
		finalized = &fin
		b.cur = newWorking(barStart, t)
		b.dirty = true
	default:
		// Tick behind the current bar. The prior bar has already been
		// finalized at its boundary, so the print cannot be applied.
		if b.cur.start-barStart <= lateToleranceMs {
			b.late.Add(1)
		} else {
			b.dropped.Add(1)
		}
	}
	b.mu.Unlock()

	if finalized != nil {
		b.onFinal(*finalized)
	}
}

// Poll drives the wall-clock obligations: finalize the in-progress bar when
// its minute has closed even if no tick crossed the boundary, and emit a
// micro-bar snapshot when the bar changed since the last poll.
func (b *Builder) Poll(nowMs int64) {
	var finalized *models.Bar
	var micro *models.MicroBar

	b.mu.Lock()
	if b.cur != nil && nowMs >= b.cur.end {
		fin := b.cur.finalize(b.symbol)
		finalized = &fin
		b.cur = nil
		b.dirty = false
	} else if b.cur != nil && b.dirty {
		m := b.cur.micro(b.symbol, nowMs)
		micro = &m
		b.dirty = false
	}
	b.mu.Unlock()

	if finalized != nil {
		b.onFinal(*finalized)
	}
	if micro != nil && b.onMicro != nil {
		b.onMicro(*micro)
	}
}

// Current returns a snapshot of the in-progress bar, if any.
func (b *Builder) Current() (models.MicroBar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == nil {
		return models.MicroBar{}, false
	}
	return b.cur.micro(b.symbol, b.nowMs()), true
}

// Counters reports dropped, late and clamped tick totals.
func (b *Builder) Counters() (dropped, late, clamped uint64) {
	return b.dropped.Load(), b.late.Load(), b.clamped.Load()
}

func newWorking(barStart int64, t models.Tick) *working {
	return &working{
		start: barStart,
		end:   barStart + 60_000,
		o:     t.Price, h: t.Price, l: t.Price, c: t.Price,
		v:      t.Size,
		lastTS: t.TS,
	}
}

func (w *working) apply(t models.Tick) {
	if t.Price > w.h {
		w.h = t.Price
	}
	if t.Price < w.l {
		w.l = t.Price
	}
	w.c = t.Price
	w.v += t.Size
	w.lastTS = t.TS
}

func (w *working) finalize(symbol string) models.Bar {
	return models.Bar{
		Symbol:    symbol,
		Timeframe: models.TF1m.Label,
		Seq:       models.SeqForStart(w.start),
		BarStart:  w.start,
		BarEnd:    w.end,
		Open:      w.o,
		High:      w.h,
		Low:       w.l,
		Close:     w.c,
		Volume:    w.v,
	}
}

func (w *working) micro(symbol string, ts int64) models.MicroBar {
	if ts < w.start || ts >= w.end {
		ts = w.lastTS
	}
	return models.MicroBar{
		Symbol: symbol,
		TS:     ts,
		Open:   w.o,
		High:   w.h,
		Low:    w.l,
		Close:  w.c,
		Volume: w.v,
	}
}
