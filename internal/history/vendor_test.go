package history

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVendorClientParsesAggs(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[
			{"t":1718110800000,"o":100,"h":101,"l":99,"c":100.5,"v":1200},
			{"t":1718110860000,"o":100.5,"h":102,"l":100,"c":101.5,"v":900}
		]}`)
	}))
	defer srv.Close()

	c := NewVendorClient(srv.URL, "secret-key")
	bars, err := c.Fetch1m(context.Background(), "SPY", 1718110800000, 1718110920000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d", len(bars))
	}

	if gotPath != "/v2/aggs/ticker/SPY/range/1/minute/1718110800000/1718110920000" {
		t.Fatalf("path = %s", gotPath)
	}
	// The range bounds must be numeric millisecond epochs, not ISO strings.
	if strings.Contains(gotPath, "T") && strings.Contains(gotPath, ":") {
		t.Fatalf("path looks like ISO timestamps: %s", gotPath)
	}
	if !strings.Contains(gotQuery, "apiKey=secret-key") || !strings.Contains(gotQuery, "sort=asc") {
		t.Fatalf("query = %s", gotQuery)
	}

	b := bars[0]
	if b.Seq != 1718110800000/60_000 {
		t.Fatalf("seq = %d", b.Seq)
	}
	if b.BarEnd-b.BarStart != 60_000 {
		t.Fatalf("span = %d", b.BarEnd-b.BarStart)
	}
	if b.Close != 100.5 || b.Volume != 1200 {
		t.Fatalf("bar = %+v", b)
	}
}

func TestVendorClientNon2xxReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewVendorClient(srv.URL, "k")
	bars, err := c.Fetch1m(context.Background(), "SPY", 0, 120_000, 10)
	if err != nil {
		t.Fatalf("non-2xx must not error, got %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("non-2xx must yield empty, got %d", len(bars))
	}
}

func TestVendorClientUnreachableReturnsEmpty(t *testing.T) {
	c := NewVendorClient("http://127.0.0.1:1", "k")
	bars, err := c.Fetch1m(context.Background(), "SPY", 0, 120_000, 10)
	if err != nil || len(bars) != 0 {
		t.Fatalf("unreachable vendor must degrade to empty: %v, %d", err, len(bars))
	}
}

func TestMockGeneratorDeterministic(t *testing.T) {
	g := NewMockGenerator()
	a := g.Generate1m("SPY", 1_718_100_000_000, 1_718_103_600_000, 100)
	b := g.Generate1m("SPY", 1_718_100_000_000, 1_718_103_600_000, 100)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("lengths %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("mock bars diverge at %d: %+v vs %+v", i, a[i], b[i])
		}
	}

	// Overlapping windows agree bar-for-bar.
	c := g.Generate1m("SPY", a[10].BarStart, a[20].BarStart+60_000, 100)
	if c[0] != a[10] {
		t.Fatalf("overlap mismatch: %+v vs %+v", c[0], a[10])
	}

	// Different symbols differ.
	d := g.Generate1m("QQQ", 1_718_100_000_000, 1_718_103_600_000, 100)
	same := 0
	for i := range d {
		if d[i].Close == a[i].Close {
			same++
		}
	}
	if same == len(d) {
		t.Fatal("different symbols produced identical series")
	}
}
