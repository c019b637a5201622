package indicators

import "math"

// Bollinger maintains rolling bands over a bounded ring of closes:
// mid = mean, upper/lower = mid +/- k*stddev. Undefined until the ring is
// full. Updates are O(1) via running sum and sum of squares.
type Bollinger struct {
	period int
	k      float64
	ring   []float64
	idx    int
	count  int
	sum    float64
	sumSq  float64
}

// NewBollinger creates bands over period closes with width k.
func NewBollinger(period int, k float64) *Bollinger {
	if period < 2 {
		period = 2
	}
	return &Bollinger{period: period, k: k, ring: make([]float64, period)}
}

// Next folds one close into the window.
func (b *Bollinger) Next(close float64) {
	if b.count == b.period {
		old := b.ring[b.idx]
		b.sum -= old
		b.sumSq -= old * old
	} else {
		b.count++
	}
	b.ring[b.idx] = close
	b.sum += close
	b.sumSq += close * close
	b.idx = (b.idx + 1) % b.period
}

// InitFromHistory resets the state and replays the given closes.
func (b *Bollinger) InitFromHistory(closes []float64) {
	b.Reset()
	for _, c := range closes {
		b.Next(c)
	}
}

// Value returns (mid, upper, lower) and whether the window is full.
func (b *Bollinger) Value() (mid, upper, lower float64, ok bool) {
	if b.count < b.period {
		return 0, 0, 0, false
	}
	n := float64(b.period)
	mid = b.sum / n
	variance := b.sumSq/n - mid*mid
	if variance < 0 {
		variance = 0
	}
	sd := math.Sqrt(variance)
	return mid, mid + b.k*sd, mid - b.k*sd, true
}

// Reset discards all state.
func (b *Bollinger) Reset() {
	for i := range b.ring {
		b.ring[i] = 0
	}
	b.idx = 0
	b.count = 0
	b.sum = 0
	b.sumSq = 0
}
