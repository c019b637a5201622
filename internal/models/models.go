package models

import (
	"fmt"
	"time"
)

// ---- Ticks ----

// Tick is a single trade print from the upstream feed.
type Tick struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // ms epoch
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Side   string  `json:"side,omitempty"` // "buy" | "sell" | ""
}

// Valid reports whether the tick carries usable values.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.TS > 0 && t.Price > 0 && t.Size >= 0
}

// ---- Bars ----

// Bar is an OHLCV aggregate over one timeframe interval.
//
// Seq is the 1-minute-aligned sequence number: floor(BarStart/60_000) for 1m
// bars; higher timeframes inherit the seq of the first 1m bar in the bucket.
// Clients reconcile by seq across the wire and across restarts.
type Bar struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Seq       int64              `json:"seq"`
	BarStart  int64              `json:"bar_start"` // ms epoch, inclusive
	BarEnd    int64              `json:"bar_end"`   // ms epoch, exclusive
	Open      float64            `json:"open"`
	High      float64            `json:"high"`
	Low       float64            `json:"low"`
	Close     float64            `json:"close"`
	Volume    float64            `json:"volume"`
	Snapshot  *IndicatorSnapshot `json:"indicators,omitempty"`
}

// SeqForStart returns the canonical 1m sequence number for a bar start.
func SeqForStart(barStartMs int64) int64 {
	return barStartMs / 60_000
}

// MicroBar is an intra-bar snapshot of the in-progress 1m bar.
type MicroBar struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IndicatorSnapshot is the session indicator state attached to a finalized bar.
type IndicatorSnapshot struct {
	VWAP    *float64 `json:"vwap,omitempty"`
	EMA9    *float64 `json:"ema9,omitempty"`
	EMA21   *float64 `json:"ema21,omitempty"`
	EMA50   *float64 `json:"ema50,omitempty"`
	EMA200  *float64 `json:"ema200,omitempty"`
	BollMid *float64 `json:"boll_mid,omitempty"`
	BollUp  *float64 `json:"boll_upper,omitempty"`
	BollLow *float64 `json:"boll_lower,omitempty"`
	VolSMA  *float64 `json:"vol_sma,omitempty"`
}

// ---- Timeframes ----

// Timeframe is a supported bar interval.
type Timeframe struct {
	Label   string
	Minutes int
}

var (
	TF1m  = Timeframe{"1m", 1}
	TF2m  = Timeframe{"2m", 2}
	TF5m  = Timeframe{"5m", 5}
	TF10m = Timeframe{"10m", 10}
	TF15m = Timeframe{"15m", 15}
	TF30m = Timeframe{"30m", 30}
	TF1h  = Timeframe{"1h", 60}
)

var timeframes = map[string]Timeframe{
	"1m": TF1m, "2m": TF2m, "5m": TF5m, "10m": TF10m,
	"15m": TF15m, "30m": TF30m, "1h": TF1h,
}

// ParseTimeframe resolves a timeframe label like "5m" or "1h".
func ParseTimeframe(s string) (Timeframe, error) {
	if tf, ok := timeframes[s]; ok {
		return tf, nil
	}
	return Timeframe{}, fmt.Errorf("unknown timeframe %q", s)
}

// Ms returns the timeframe length in milliseconds.
func (tf Timeframe) Ms() int64 { return int64(tf.Minutes) * 60_000 }

func (tf Timeframe) String() string { return tf.Label }

// ---- Signals ----

// Signal is an outbound trade signal admitted by the risk governor.
type Signal struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Timeframe  string         `json:"timeframe"`
	RuleID     string         `json:"rule_id"`
	Direction  string         `json:"direction"` // "long" | "short"
	Confidence float64        `json:"confidence"`
	TS         int64          `json:"ts"`
	BarSeq     int64          `json:"bar_seq"`
	Ctx        map[string]any `json:"ctx,omitempty"`
}

// ---- Market status ----

// MarketStatus describes the current data source and trading session.
type MarketStatus struct {
	Source    string     `json:"source"` // "vendor" | "sim" | "mock" | "replay"
	Reason    string     `json:"reason,omitempty"`
	Session   string     `json:"session"` // "RTH" | "RTH_EXT" | "closed"
	Open      bool       `json:"open"`
	NextOpen  *time.Time `json:"next_open,omitempty"`
	NextClose *time.Time `json:"next_close,omitempty"`
}
