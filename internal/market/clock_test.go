package market

import (
	"testing"
	"time"
)

func etMs(y int, mo time.Month, d, h, m int) int64 {
	return time.Date(y, mo, d, h, m, 0, 0, Eastern()).UnixMilli()
}

func TestRegularTradingHours(t *testing.T) {
	// Tuesday 2024-06-11
	if !IsRegularTradingHours(etMs(2024, time.June, 11, 9, 30)) {
		t.Fatal("09:30 ET on a weekday should be RTH")
	}
	if !IsRegularTradingHours(etMs(2024, time.June, 11, 15, 59)) {
		t.Fatal("15:59 ET should be RTH")
	}
	if IsRegularTradingHours(etMs(2024, time.June, 11, 16, 0)) {
		t.Fatal("16:00 ET should be outside RTH")
	}
	if IsRegularTradingHours(etMs(2024, time.June, 11, 9, 29)) {
		t.Fatal("09:29 ET should be outside RTH")
	}
}

func TestWeekendClosed(t *testing.T) {
	// Saturday 2024-06-08
	if IsRegularTradingHours(etMs(2024, time.June, 8, 12, 0)) {
		t.Fatal("Saturday noon should be closed")
	}
}

func TestHolidaysClosed(t *testing.T) {
	cases := []struct {
		name string
		ms   int64
	}{
		{"july 4th", etMs(2024, time.July, 4, 12, 0)},
		{"christmas", etMs(2024, time.December, 25, 12, 0)},
		{"thanksgiving 2024", etMs(2024, time.November, 28, 12, 0)},
		{"good friday 2024", etMs(2024, time.March, 29, 12, 0)},
		{"mlk 2024", etMs(2024, time.January, 15, 12, 0)},
	}
	for _, tc := range cases {
		if IsRegularTradingHours(tc.ms) {
			t.Errorf("%s should be closed", tc.name)
		}
	}
}

func TestExtendedHours(t *testing.T) {
	if !IsExtendedTradingHours(etMs(2024, time.June, 11, 4, 0)) {
		t.Fatal("04:00 ET should be inside extended hours")
	}
	if IsExtendedTradingHours(etMs(2024, time.June, 11, 20, 0)) {
		t.Fatal("20:00 ET should be outside extended hours")
	}
}

func TestSessionStart(t *testing.T) {
	ts := etMs(2024, time.June, 11, 13, 45)
	want := etMs(2024, time.June, 11, 9, 30)
	if got := SessionStartMs(ts); got != want {
		t.Fatalf("session start = %d, want %d", got, want)
	}
}

func TestFloorToExchangeBucketPlain(t *testing.T) {
	ts := etMs(2024, time.June, 11, 10, 7)
	want := etMs(2024, time.June, 11, 10, 5)
	if got := FloorToExchangeBucket(ts, 5); got != want {
		t.Fatalf("bucket = %d, want %d", got, want)
	}
	if got := FloorToExchangeBucket(ts, 60); got != etMs(2024, time.June, 11, 10, 0) {
		t.Fatalf("hour bucket mismatch: %d", got)
	}
}

func TestFloorToExchangeBucketSpringForward(t *testing.T) {
	// 2024-03-10: 02:00 EST jumps to 03:00 EDT.
	b158 := FloorToExchangeBucket(etMs(2024, time.March, 10, 1, 58), 5)
	if b158 != etMs(2024, time.March, 10, 1, 55) {
		t.Fatalf("01:58 bucket = %d, want 01:55", b158)
	}
	b302 := FloorToExchangeBucket(etMs(2024, time.March, 10, 3, 2), 5)
	if b302 != etMs(2024, time.March, 10, 3, 0) {
		t.Fatalf("03:02 bucket = %d, want 03:00", b302)
	}
	// No bucket may span the skipped hour: the 01:55 bucket (06:55Z) and the
	// 03:00 bucket (07:00Z) are adjacent, 5 minutes apart in UTC, even though
	// the local labels are 65 minutes apart.
	if b302-b158 != 5*60_000 {
		t.Fatalf("expected skipped hour to collapse: diff = %d ms", b302-b158)
	}
}

func TestFloorToExchangeBucketFallBack(t *testing.T) {
	// 2024-11-03: 01:xx EDT repeats as 01:xx EST one hour later in UTC.
	first := time.Date(2024, time.November, 3, 1, 30, 0, 0, Eastern())
	second := first.Add(time.Hour)
	if second.In(Eastern()).Hour() != 1 {
		t.Fatal("test setup: second occurrence should still be 01:xx local")
	}

	b1 := FloorToExchangeBucket(first.UnixMilli(), 5)
	b2 := FloorToExchangeBucket(second.UnixMilli(), 5)
	if b1 == b2 {
		t.Fatal("the two 01:30 occurrences must map to distinct buckets")
	}
	if b2-b1 != 60*60_000 {
		t.Fatalf("fall-back buckets should be one UTC hour apart, got %d ms", b2-b1)
	}
}
