package bars

import (
	"testing"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

func seqBar(seq int64) models.Bar {
	start := seq * 60_000
	return bar1m("SPY", start, 100, 101, 99, 100.5, 1000)
}

func TestRingPushOrderedAndCapped(t *testing.T) {
	r := NewRing(5)
	for seq := int64(1); seq <= 8; seq++ {
		r.Push(seqBar(seq))
	}
	if r.Len() != 5 {
		t.Fatalf("len = %d, want cap 5", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].Seq != 4 || snap[4].Seq != 8 {
		t.Fatalf("aged out wrong entries: first=%d last=%d", snap[0].Seq, snap[4].Seq)
	}
}

func TestRingRejectsNonMonotonic(t *testing.T) {
	r := NewRing(10)
	r.Push(seqBar(5))
	r.Push(seqBar(4)) // stale
	r.Push(seqBar(5)) // duplicate
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRingSince(t *testing.T) {
	r := NewRing(10)
	for seq := int64(10); seq <= 15; seq++ {
		r.Push(seqBar(seq))
	}
	got := r.Since(12)
	if len(got) != 3 {
		t.Fatalf("since(12) returned %d bars, want 3", len(got))
	}
	for i, b := range got {
		if b.Seq <= 12 {
			t.Fatalf("bar %d has seq %d <= 12", i, b.Seq)
		}
	}
	if got := r.Since(15); len(got) != 0 {
		t.Fatalf("since(newest) should be empty, got %d", len(got))
	}
}

func TestRingLast(t *testing.T) {
	r := NewRing(10)
	for seq := int64(1); seq <= 6; seq++ {
		r.Push(seqBar(seq))
	}
	got := r.Last(3)
	if len(got) != 3 || got[0].Seq != 4 || got[2].Seq != 6 {
		t.Fatalf("last(3) = %+v", got)
	}
	if got := r.Last(100); len(got) != 6 {
		t.Fatalf("last(100) should clamp to len, got %d", len(got))
	}
}

func TestRingMerge(t *testing.T) {
	r := NewRing(10)
	r.Push(seqBar(10))
	r.Push(seqBar(11))

	// Backfill older bars plus one duplicate.
	r.Merge([]models.Bar{seqBar(7), seqBar(8), seqBar(10)})
	snap := r.Snapshot()
	want := []int64{7, 8, 10, 11}
	if len(snap) != len(want) {
		t.Fatalf("merged len = %d, want %d", len(snap), len(want))
	}
	for i, b := range snap {
		if b.Seq != want[i] {
			t.Fatalf("merged[%d].Seq = %d, want %d", i, b.Seq, want[i])
		}
	}
}

func TestStoreSingleWriterView(t *testing.T) {
	s := NewStore(100)
	s.Append(seqBar(1))
	s.Append(seqBar(2))

	latest, ok := s.Latest("SPY")
	if !ok || latest.Seq != 2 {
		t.Fatalf("latest = %+v ok=%v", latest, ok)
	}
	if _, ok := s.Latest("QQQ"); ok {
		t.Fatal("unknown symbol should have no latest bar")
	}

	found := false
	for _, sym := range s.Symbols() {
		if sym == "SPY" {
			found = true
		}
	}
	if !found {
		t.Fatal("SPY missing from symbol listing")
	}
}
