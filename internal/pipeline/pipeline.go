package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bars"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/bus"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/feed"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/history"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/indicators"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/signals"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/triggers"
)

// Config tunes the per-symbol pipeline.
type Config struct {
	MicrobarInterval time.Duration
	TriggerConfig    triggers.Config
	RollupsEnabled   bool
	Audit            bool
}

// Pipeline owns the tick -> bar -> indicator -> trigger path. It is the
// single writer for every symbol's authoritative buffer; everything else
// observes through the bus or the store.
type Pipeline struct {
	cfg      Config
	bus      *bus.Bus
	store    *bars.Store
	governor *signals.Governor

	mu      sync.RWMutex
	workers map[string]*worker
}

// worker is the per-symbol state. All bar-path mutation goes through its
// barMu so finalized bars are processed strictly in seq order.
type worker struct {
	symbol  string
	builder *bars.Builder
	ind     *indicators.Engine
	trig    *triggers.Set

	barMu    sync.Mutex
	lastSeq  int64
	activeTF models.Timeframe
	bucket   *models.Bar // in-progress rollup bucket for activeTF
}

// New creates a pipeline publishing on b and writing to store.
func New(cfg Config, b *bus.Bus, store *bars.Store, governor *signals.Governor) *Pipeline {
	if cfg.MicrobarInterval <= 0 {
		cfg.MicrobarInterval = 200 * time.Millisecond
	}
	return &Pipeline{
		cfg:      cfg,
		bus:      b,
		store:    store,
		governor: governor,
		workers:  make(map[string]*worker),
	}
}

// Run consumes src until ctx is cancelled: a single loop on the calling
// goroutine drains ticks and, on the micro-bar ticker, drives the micro-bar
// cadence and boundary finalization.
func (p *Pipeline) Run(ctx context.Context, src feed.TickSource) {
	ticker := time.NewTicker(p.cfg.MicrobarInterval)
	defer ticker.Stop()

	ticks := src.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			p.OnTick(t)
		case <-ticker.C:
			now := time.Now().UnixMilli()
			p.mu.RLock()
			ws := make([]*worker, 0, len(p.workers))
			for _, w := range p.workers {
				ws = append(ws, w)
			}
			p.mu.RUnlock()
			for _, w := range ws {
				w.builder.Poll(now)
			}
		}
	}
}

// OnTick routes one trade print into its symbol's builder and republishes it
// on the bus.
func (p *Pipeline) OnTick(t models.Tick) {
	w := p.worker(t.Symbol)
	w.builder.OnTick(t)
	p.bus.Publish(bus.TopicTick(t.Symbol), t)
}

// Attach ensures per-symbol state exists for each symbol.
func (p *Pipeline) Attach(symbols ...string) {
	for _, sym := range symbols {
		p.worker(sym)
	}
}

// worker returns (creating on demand) the per-symbol state.
func (p *Pipeline) worker(symbol string) *worker {
	p.mu.RLock()
	w := p.workers[symbol]
	p.mu.RUnlock()
	if w != nil {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w = p.workers[symbol]; w != nil {
		return w
	}

	w = &worker{
		symbol:   symbol,
		ind:      indicators.NewEngine(),
		activeTF: models.TF1m,
	}
	w.trig = triggers.NewSet(symbol, p.cfg.TriggerConfig, func(f triggers.Firing) {
		p.governor.Admit(f)
	})
	w.builder = bars.NewBuilder(symbol,
		func(b models.Bar) { p.handleFinal(w, b) },
		func(m models.MicroBar) { p.bus.Publish(bus.TopicMicroBar(symbol), m) },
	)
	p.workers[symbol] = w
	slog.Info("pipeline: symbol attached", "symbol", symbol)
	return w
}

// handleFinal runs the full finalized-bar path for one symbol, in seq order.
func (p *Pipeline) handleFinal(w *worker, b models.Bar) {
	w.barMu.Lock()
	defer w.barMu.Unlock()

	if b.Seq <= w.lastSeq {
		return
	}
	w.lastSeq = b.Seq

	snap := w.ind.OnBar(b)
	b.Snapshot = &snap

	if p.cfg.Audit {
		auditBar(b)
	}

	p.store.Append(b)
	p.bus.Publish(bus.TopicBarNew(w.symbol, models.TF1m.Label), b)

	if p.cfg.RollupsEnabled && w.activeTF.Minutes > 1 {
		p.rollBucket(w, b)
	}

	w.trig.OnBar(b)
}

// rollBucket folds a finalized 1m bar into the active higher-timeframe
// bucket and publishes the bucket when it closes.
func (p *Pipeline) rollBucket(w *worker, b models.Bar) {
	rolled := bars.RollupFrom1m([]models.Bar{b}, w.activeTF, true)
	if len(rolled) == 0 {
		return
	}
	nb := rolled[0]

	switch {
	case w.bucket == nil:
		w.bucket = &nb
	case nb.BarStart == w.bucket.BarStart:
		if b.High > w.bucket.High {
			w.bucket.High = b.High
		}
		if b.Low < w.bucket.Low {
			w.bucket.Low = b.Low
		}
		w.bucket.Close = b.Close
		w.bucket.Volume += b.Volume
		w.bucket.Snapshot = b.Snapshot
	default:
		closed := *w.bucket
		w.bucket = &nb
		p.bus.Publish(bus.TopicBarNew(w.symbol, w.activeTF.Label), closed)
	}

	// A 1m bar that lands exactly on the bucket end closes it in place.
	if w.bucket != nil && b.BarEnd >= w.bucket.BarEnd {
		closed := *w.bucket
		w.bucket = nil
		p.bus.Publish(bus.TopicBarNew(w.symbol, w.activeTF.Label), closed)
	}
}

// SetTimeframe switches the live rollup subscription for a symbol. The
// in-progress bucket of the previous timeframe is discarded.
func (p *Pipeline) SetTimeframe(symbol string, tf models.Timeframe) {
	w := p.worker(symbol)
	w.barMu.Lock()
	w.activeTF = tf
	w.bucket = nil
	w.barMu.Unlock()
	slog.Info("pipeline: rollup timeframe changed", "symbol", symbol, "timeframe", tf.Label)
}

// Warm seeds indicator state from history so triggers and snapshots are
// meaningful immediately after start.
func (p *Pipeline) Warm(ctx context.Context, svc *history.Service, symbols []string, limit int) {
	for _, sym := range symbols {
		hist, err := svc.GetHistory(ctx, history.Query{
			Symbol:    sym,
			Timeframe: models.TF1m,
			Limit:     limit,
		})
		if err != nil || len(hist) == 0 {
			slog.Warn("pipeline: warmup skipped", "symbol", sym, "error", err)
			continue
		}
		w := p.worker(sym)
		w.barMu.Lock()
		w.ind.InitFromHistory(hist)
		w.lastSeq = hist[len(hist)-1].Seq
		w.barMu.Unlock()
		slog.Info("pipeline: warmed", "symbol", sym, "bars", len(hist))
	}
}

// Counters aggregates builder drop counters across symbols.
func (p *Pipeline) Counters() (dropped, late, clamped uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		d, l, c := w.builder.Counters()
		dropped += d
		late += l
		clamped += c
	}
	return
}

// auditBar verifies OHLC ordering on the finalized bar, logging violations.
func auditBar(b models.Bar) {
	min, max := b.Open, b.Open
	if b.Close < min {
		min = b.Close
	}
	if b.Close > max {
		max = b.Close
	}
	if b.Low > min || b.High < max {
		slog.Warn("audit: inconsistent OHLC",
			"symbol", b.Symbol, "seq", b.Seq,
			"o", b.Open, "h", b.High, "l", b.Low, "c", b.Close)
	}
	if b.Snapshot != nil && b.Snapshot.VWAP != nil {
		if v := *b.Snapshot.VWAP; v <= 0 {
			slog.Warn("audit: non-positive vwap", "symbol", b.Symbol, "seq", b.Seq, "vwap", v)
		}
	}
}
