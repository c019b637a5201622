package indicators

import (
	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// Engine bundles the session indicator set for one symbol: EMA 9/21/50/200,
// session-anchored VWAP, Bollinger(20, 2) and volume SMA(20). It stamps a
// snapshot onto every finalized 1m bar. Not safe for concurrent use; the
// per-symbol pipeline writer owns it.
type Engine struct {
	ema9, ema21, ema50, ema200 *EMA
	vwap                       *SessionVWAP
	boll                       *Bollinger
	volSMA                     *VolumeSMA
	sessionStart               int64
}

// NewEngine creates an indicator engine with the standard parameter set.
func NewEngine() *Engine {
	return &Engine{
		ema9:   NewEMA(9),
		ema21:  NewEMA(21),
		ema50:  NewEMA(50),
		ema200: NewEMA(200),
		vwap:   NewSessionVWAP(0),
		boll:   NewBollinger(20, 2),
		volSMA: NewVolumeSMA(20),
	}
}

// OnBar folds a finalized 1m bar into all indicators, resetting the session
// VWAP when the bar opens a new RTH session, and returns the snapshot that
// reflects every bar up to and including this one.
func (e *Engine) OnBar(b models.Bar) models.IndicatorSnapshot {
	ss := market.SessionStartMs(b.BarStart)
	if b.BarStart >= ss && ss != e.sessionStart {
		e.vwap.Reset(ss)
		e.sessionStart = ss
	}

	e.ema9.Next(b.Close)
	e.ema21.Next(b.Close)
	e.ema50.Next(b.Close)
	e.ema200.Next(b.Close)
	e.vwap.Next(b.High, b.Low, b.Close, b.Volume)
	e.boll.Next(b.Close)
	e.volSMA.Next(b.Volume)

	return e.Snapshot()
}

// InitFromHistory resets all state and replays the given finalized bars.
// The resulting state is identical to feeding the bars through OnBar live.
func (e *Engine) InitFromHistory(history []models.Bar) {
	e.Reset()
	for _, b := range history {
		e.OnBar(b)
	}
}

// Snapshot captures the current values of every defined indicator.
func (e *Engine) Snapshot() models.IndicatorSnapshot {
	var snap models.IndicatorSnapshot
	if v, ok := e.vwap.Value(); ok {
		snap.VWAP = ptr(v)
	}
	if v, ok := e.ema9.Value(); ok {
		snap.EMA9 = ptr(v)
	}
	if v, ok := e.ema21.Value(); ok {
		snap.EMA21 = ptr(v)
	}
	if v, ok := e.ema50.Value(); ok {
		snap.EMA50 = ptr(v)
	}
	if v, ok := e.ema200.Value(); ok {
		snap.EMA200 = ptr(v)
	}
	if mid, up, low, ok := e.boll.Value(); ok {
		snap.BollMid = ptr(mid)
		snap.BollUp = ptr(up)
		snap.BollLow = ptr(low)
	}
	if v, ok := e.volSMA.Value(); ok {
		snap.VolSMA = ptr(v)
	}
	return snap
}

// VWAP exposes the session VWAP value for trigger evaluation.
func (e *Engine) VWAP() (float64, bool) { return e.vwap.Value() }

// EMA9Value exposes the EMA9 value for trigger evaluation.
func (e *Engine) EMA9Value() (float64, bool) { return e.ema9.Value() }

// EMA21Value exposes the EMA21 value for trigger evaluation.
func (e *Engine) EMA21Value() (float64, bool) { return e.ema21.Value() }

// Reset discards all indicator state.
func (e *Engine) Reset() {
	e.ema9.Reset()
	e.ema21.Reset()
	e.ema50.Reset()
	e.ema200.Reset()
	e.vwap.Reset(0)
	e.boll.Reset()
	e.volSMA.Reset()
	e.sessionStart = 0
}

func ptr(v float64) *float64 { return &v }
