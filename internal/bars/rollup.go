package bars

import (
	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// RollupFrom1m groups an insertion-ordered slice of 1m bars (strictly
// increasing bar_start, gaps allowed) into tf-sized buckets aligned to the
// exchange wall clock in ET. Bucket boundaries come from
// market.FloorToExchangeBucket, so spring-forward gaps are never spanned and
// the two fall-back 01:xx hours land in distinct buckets.
//
// The rolled bar takes o from the first 1m bar, c from the last, h/l as the
// extremes, v as the sum, and inherits the seq of the earliest 1m bar in the
// bucket. The trailing, possibly partial bucket is emitted only when
// incremental is true or when its final 1m bar closes the bucket exactly.
func RollupFrom1m(in []models.Bar, tf models.Timeframe, incremental bool) []models.Bar {
	if len(in) == 0 {
		return nil
	}
	if tf.Minutes <= 1 {
		out := make([]models.Bar, len(in))
		copy(out, in)
		return out
	}

	var out []models.Bar
	var cur *models.Bar
	var curBucket int64 = -1

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i := range in {
		b := in[i]
		bucket := market.FloorToExchangeBucket(b.BarStart, tf.Minutes)
		if bucket != curBucket {
			flush()
			curBucket = bucket
			cur = &models.Bar{
				Symbol:    b.Symbol,
				Timeframe: tf.Label,
				Seq:       b.Seq,
				BarStart:  bucket,
				BarEnd:    bucket + tf.Ms(),
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				Snapshot:  b.Snapshot,
			}
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.Snapshot = b.Snapshot
	}

	if cur != nil {
		closed := in[len(in)-1].BarEnd >= cur.BarEnd
		if incremental || closed {
			out = append(out, *cur)
		}
	}
	return out
}
