package stream

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bars"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/bus"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/history"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

type sseEvent struct {
	Name string
	ID   string
	Data string
}

// readEvents parses the text/event-stream into a channel of events.
func readEvents(t *testing.T, body *bufio.Reader) <-chan sseEvent {
	t.Helper()
	ch := make(chan sseEvent, 64)
	go func() {
		defer close(ch)
		var cur sseEvent
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if cur.Name != "" {
					ch <- cur
				}
				cur = sseEvent{}
			case strings.HasPrefix(line, "event: "):
				cur.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				cur.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				cur.Data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return ch
}

func next(t *testing.T, ch <-chan sseEvent, what string) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed waiting for %s", what)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
	return sseEvent{}
}

func seededRun(n int) []models.Bar {
	start := time.Date(2024, time.June, 11, 9, 30, 0, 0, market.Eastern())
	out := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		ms := start.Add(time.Duration(i) * time.Minute).UnixMilli()
		out = append(out, models.Bar{
			Symbol: "SPY", Timeframe: "1m",
			Seq: models.SeqForStart(ms), BarStart: ms, BarEnd: ms + 60_000,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		})
	}
	return out
}

func newTestServer(t *testing.T, seed []models.Bar) (*Server, *httptest.Server) {
	t.Helper()
	store := bars.NewStore(1000)
	if len(seed) > 0 {
		store.Merge("SPY", seed)
	}
	srv := &Server{
		Bus:       bus.New(),
		History:   history.NewService(store, nil, nil, false),
		Epoch:     NewEpoch(),
		SeedLimit: 300,
	}
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleSSE))
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestSSEBootstrapEpochAndSeed(t *testing.T) {
	run := seededRun(12)
	srv, ts := newTestServer(t, run)

	resp, err := http.Get(ts.URL + "?symbols=SPY&timeframe=1m")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}
	if resp.Header.Get("X-Epoch-Id") != srv.Epoch.ID {
		t.Fatal("epoch header missing")
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatal("cache-control header wrong")
	}

	events := readEvents(t, bufio.NewReader(resp.Body))

	boot := next(t, events, "bootstrap")
	if boot.Name != EventBootstrap {
		t.Fatalf("first event = %s, want bootstrap", boot.Name)
	}
	ep := next(t, events, "epoch")
	if ep.Name != EventEpoch {
		t.Fatalf("second event = %s, want epoch", ep.Name)
	}
	var epPayload struct {
		EpochID string `json:"epochId"`
	}
	if err := json.Unmarshal([]byte(ep.Data), &epPayload); err != nil || epPayload.EpochID != srv.Epoch.ID {
		t.Fatalf("epoch payload = %s", ep.Data)
	}

	lastSeq := int64(0)
	for i := 0; i < len(run); i++ {
		ev := next(t, events, "seed bar")
		if ev.Name != EventBar {
			t.Fatalf("expected bar, got %s", ev.Name)
		}
		seq, err := strconv.ParseInt(ev.ID, 10, 64)
		if err != nil {
			t.Fatalf("bar id = %q", ev.ID)
		}
		if seq <= lastSeq {
			t.Fatalf("seed seq not strictly increasing: %d after %d", seq, lastSeq)
		}
		lastSeq = seq
	}
	if lastSeq != run[len(run)-1].Seq {
		t.Fatalf("last seed seq = %d, want %d", lastSeq, run[len(run)-1].Seq)
	}
}

func TestSSELiveBarsRespectWatermark(t *testing.T) {
	run := seededRun(12)
	srv, ts := newTestServer(t, run)

	resp, err := http.Get(ts.URL + "?symbols=SPY&timeframe=1m")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	events := readEvents(t, bufio.NewReader(resp.Body))

	// Swallow bootstrap, epoch and the seed.
	for i := 0; i < 2+len(run); i++ {
		next(t, events, "preamble")
	}

	last := run[len(run)-1]
	stale := last
	stale.Seq -= 3 // already sent during seed

	fresh := last
	fresh.BarStart += 60_000
	fresh.BarEnd += 60_000
	fresh.Seq = models.SeqForStart(fresh.BarStart)

	// Give the subscription a beat, then publish stale before fresh.
	time.Sleep(20 * time.Millisecond)
	srv.Bus.Publish(bus.TopicBarNew("SPY", "1m"), stale)
	srv.Bus.Publish(bus.TopicBarNew("SPY", "1m"), fresh)

	ev := next(t, events, "live bar")
	if ev.Name != EventBar {
		t.Fatalf("event = %s", ev.Name)
	}
	if ev.ID != strconv.FormatInt(fresh.Seq, 10) {
		t.Fatalf("got bar id %s, want %d (stale one must be suppressed)", ev.ID, fresh.Seq)
	}
}

func TestSSEResumeWithLastEventID(t *testing.T) {
	run := seededRun(12)
	_, ts := newTestServer(t, run)

	cut := run[9].Seq // client saw everything through bar 9
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"?symbols=SPY&timeframe=1m", nil)
	req.Header.Set("Last-Event-ID", strconv.FormatInt(cut, 10))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	events := readEvents(t, bufio.NewReader(resp.Body))

	next(t, events, "bootstrap")
	next(t, events, "epoch")

	// Exactly the two bars after the watermark, in order, no duplicates.
	first := next(t, events, "gap bar 1")
	second := next(t, events, "gap bar 2")
	if first.ID != strconv.FormatInt(run[10].Seq, 10) {
		t.Fatalf("first gap bar id = %s, want %d", first.ID, run[10].Seq)
	}
	if second.ID != strconv.FormatInt(run[11].Seq, 10) {
		t.Fatalf("second gap bar id = %s, want %d", second.ID, run[11].Seq)
	}
	select {
	case ev := <-events:
		if ev.Name == EventBar {
			t.Fatalf("unexpected extra bar %s", ev.ID)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSEMicrobarBatching(t *testing.T) {
	srv, ts := newTestServer(t, seededRun(12))

	resp, err := http.Get(ts.URL + "?symbols=SPY&timeframe=1m")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	events := readEvents(t, bufio.NewReader(resp.Body))

	for i := 0; i < 14; i++ { // bootstrap + epoch + 12 seed bars
		next(t, events, "preamble")
	}

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		srv.Bus.Publish(bus.TopicMicroBar("SPY"), models.MicroBar{Symbol: "SPY", TS: int64(i)})
	}

	ev := next(t, events, "microbar batch")
	if ev.Name != EventMicroBatch {
		t.Fatalf("event = %s", ev.Name)
	}
	var payload struct {
		Microbars []models.MicroBar `json:"microbars"`
	}
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Microbars) != 5 {
		t.Fatalf("batch size = %d, want 5", len(payload.Microbars))
	}
}

func TestSSERequiresSymbols(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
