package indicators

// SessionVWAP accumulates volume-weighted typical price, anchored at the
// session open. Undefined until volume has been seen.
type SessionVWAP struct {
	cumPV        float64
	cumVol       float64
	sessionStart int64
}

// NewSessionVWAP creates a VWAP anchored at sessionStartMs.
func NewSessionVWAP(sessionStartMs int64) *SessionVWAP {
	return &SessionVWAP{sessionStart: sessionStartMs}
}

// Next folds one bar's typical price (h+l+c)/3 weighted by volume.
func (v *SessionVWAP) Next(h, l, c, vol float64) {
	tp := (h + l + c) / 3
	v.cumPV += tp * vol
	v.cumVol += vol
}

// Value returns the session VWAP and whether any volume has accumulated.
func (v *SessionVWAP) Value() (float64, bool) {
	if v.cumVol <= 0 {
		return 0, false
	}
	return v.cumPV / v.cumVol, true
}

// SessionStart returns the anchor timestamp in ms.
func (v *SessionVWAP) SessionStart() int64 { return v.sessionStart }

// Reset re-anchors the accumulator at a new session open.
func (v *SessionVWAP) Reset(sessionStartMs int64) {
	v.cumPV = 0
	v.cumVol = 0
	v.sessionStart = sessionStartMs
}
