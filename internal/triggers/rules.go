package triggers

import (
	"math"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

func snapVWAP(b models.Bar) (float64, bool) {
	if b.Snapshot == nil || b.Snapshot.VWAP == nil {
		return 0, false
	}
	return *b.Snapshot.VWAP, true
}

func snapEMA9(b models.Bar) (float64, bool) {
	if b.Snapshot == nil || b.Snapshot.EMA9 == nil {
		return 0, false
	}
	return *b.Snapshot.EMA9, true
}

func snapEMA21(b models.Bar) (float64, bool) {
	if b.Snapshot == nil || b.Snapshot.EMA21 == nil {
		return 0, false
	}
	return *b.Snapshot.EMA21, true
}

// VWAPReclaim fires long when price reclaims the session VWAP with volume
// confirmation: two consecutive closes above VWAP, the last bar's volume
// above 1.2x the average of the prior two, the prior bar's low below VWAP
// and the current low above it.
type VWAPReclaim struct{}

func (VWAPReclaim) ID() string { return "vwap_reclaim" }

func (VWAPReclaim) Evaluate(ec EvalContext) (Candidate, bool) {
	n := len(ec.Window)
	if n < 3 {
		return Candidate{}, false
	}
	last, prev, prev2 := ec.Window[n-1], ec.Window[n-2], ec.Window[n-3]

	vwLast, ok1 := snapVWAP(last)
	vwPrev, ok2 := snapVWAP(prev)
	if !ok1 || !ok2 {
		return Candidate{}, false
	}
	if last.Close <= vwLast || prev.Close <= vwPrev {
		return Candidate{}, false
	}
	avgVol := (prev.Volume + prev2.Volume) / 2
	if avgVol <= 0 || last.Volume <= 1.2*avgVol {
		return Candidate{}, false
	}
	if prev.Low >= vwPrev || last.Low <= vwLast {
		return Candidate{}, false
	}

	volRatio := last.Volume / avgVol
	return Candidate{
		Direction:  "long",
		Confidence: 0.55 + 0.1*math.Min(volRatio-1.2, 2),
		EntryLow:   vwLast,
		EntryHigh:  last.Close,
		Stop:       prev.Low,
		Ctx:        map[string]any{"vwap": vwLast, "vol_ratio": volRatio},
	}, true
}

// VWAPReject is the symmetric short setup: two consecutive closes below
// VWAP, volume confirmation, the prior bar's high above VWAP and the
// current high below it.
type VWAPReject struct{}

func (VWAPReject) ID() string { return "vwap_reject" }

func (VWAPReject) Evaluate(ec EvalContext) (Candidate, bool) {
	n := len(ec.Window)
	if n < 3 {
		return Candidate{}, false
	}
	last, prev, prev2 := ec.Window[n-1], ec.Window[n-2], ec.Window[n-3]

	vwLast, ok1 := snapVWAP(last)
	vwPrev, ok2 := snapVWAP(prev)
	if !ok1 || !ok2 {
		return Candidate{}, false
	}
	if last.Close >= vwLast || prev.Close >= vwPrev {
		return Candidate{}, false
	}
	avgVol := (prev.Volume + prev2.Volume) / 2
	if avgVol <= 0 || last.Volume <= 1.2*avgVol {
		return Candidate{}, false
	}
	if prev.High <= vwPrev || last.High >= vwLast {
		return Candidate{}, false
	}

	volRatio := last.Volume / avgVol
	return Candidate{
		Direction:  "short",
		Confidence: 0.55 + 0.1*math.Min(volRatio-1.2, 2),
		EntryLow:   last.Close,
		EntryHigh:  vwLast,
		Stop:       prev.High,
		Ctx:        map[string]any{"vwap": vwLast, "vol_ratio": volRatio},
	}, true
}

// ORBBreakout fires long when a bar after the opening range closes above the
// range high on at least 2x the session average volume while holding the
// level (low above orbHigh less a small buffer).
type ORBBreakout struct{}

func (ORBBreakout) ID() string { return "orb_breakout" }

func (ORBBreakout) Evaluate(ec EvalContext) (Candidate, bool) {
	n := len(ec.Window)
	if n == 0 || !ec.ORBReady || ec.SessionAvgVol <= 0 {
		return Candidate{}, false
	}
	last := ec.Window[n-1]

	if last.Close <= ec.ORBHigh {
		return Candidate{}, false
	}
	if last.Volume <= 2*ec.SessionAvgVol {
		return Candidate{}, false
	}
	if last.Low <= ec.ORBHigh*0.999 {
		return Candidate{}, false
	}

	volRatio := last.Volume / ec.SessionAvgVol
	return Candidate{
		Direction:  "long",
		Confidence: 0.6 + 0.08*math.Min(volRatio-2, 3),
		EntryLow:   ec.ORBHigh,
		EntryHigh:  last.Close,
		Stop:       ec.ORBLow,
		Ctx:        map[string]any{"orb_high": ec.ORBHigh, "orb_low": ec.ORBLow, "vol_ratio": volRatio},
	}, true
}

// EMAPullback fires long on a shallow pullback to EMA9 inside an uptrend:
// EMA9 above EMA21 for the whole 5-bar window, a low in the last two bars
// touching within 0.3% of EMA9, the last close back above EMA9, and the
// recent two-bar volume drying up below 0.8x the prior two bars.
type EMAPullback struct{}

func (EMAPullback) ID() string { return "ema_pullback" }

func (EMAPullback) Evaluate(ec EvalContext) (Candidate, bool) {
	n := len(ec.Window)
	if n < 5 {
		return Candidate{}, false
	}
	win := ec.Window[n-5:]

	for _, b := range win {
		e9, ok1 := snapEMA9(b)
		e21, ok2 := snapEMA21(b)
		if !ok1 || !ok2 || e9 <= e21 {
			return Candidate{}, false
		}
	}

	touched := false
	for _, b := range win[3:] {
		e9, _ := snapEMA9(b)
		if e9 > 0 && math.Abs(b.Low-e9)/e9 <= 0.003 {
			touched = true
			break
		}
	}
	if !touched {
		return Candidate{}, false
	}

	last := win[4]
	e9Last, _ := snapEMA9(last)
	if last.Close <= e9Last {
		return Candidate{}, false
	}

	recentVol := (win[3].Volume + win[4].Volume) / 2
	earlierVol := (win[1].Volume + win[2].Volume) / 2
	if earlierVol <= 0 || recentVol >= 0.8*earlierVol {
		return Candidate{}, false
	}

	return Candidate{
		Direction:  "long",
		Confidence: 0.6,
		EntryLow:   e9Last,
		EntryHigh:  last.Close,
		Stop:       math.Min(win[3].Low, win[4].Low),
		Ctx:        map[string]any{"ema9": e9Last, "vol_contraction": recentVol / earlierVol},
	}, true
}
