package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bus"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/history"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

const (
	pingInterval    = 10 * time.Second
	defaultQueueCap = 100
)

// Server owns the SSE fan-out: it turns bus traffic into per-connection
// event streams with watermarks, micro-batching, backpressure and resume.
type Server struct {
	Bus       *bus.Bus
	History   *history.Service
	Epoch     Epoch
	SeedLimit int
	QueueCap  int
}

// HandleSSE serves GET /realtime/sse?symbols=<csv>&timeframe=<tf>&sinceSeq=<n>.
// Last-Event-ID takes precedence over sinceSeq on reconnect.
func (s *Server) HandleSSE(w http.ResponseWriter, r *http.Request) {
	symbols := splitSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		http.Error(w, `{"error":"symbols is required"}`, http.StatusBadRequest)
		return
	}
	tf := models.TF1m
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		parsed, err := models.ParseTimeframe(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid timeframe"}`, http.StatusBadRequest)
			return
		}
		tf = parsed
	}

	sinceSeq := int64(0)
	if raw := r.URL.Query().Get("sinceSeq"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			sinceSeq = n
		}
	}
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			sinceSeq = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.Header().Set("X-Epoch-Id", s.Epoch.ID)
	w.Header().Set("X-Epoch-Start-Ms", strconv.FormatInt(s.Epoch.StartMs, 10))
	w.WriteHeader(http.StatusOK)

	c := s.newConn(symbols, tf, sinceSeq)
	slog.Info("sse: connection opened", "symbols", symbols, "timeframe", tf.Label, "since_seq", sinceSeq)
	c.run(r.Context(), w, flusher)
	slog.Info("sse: connection closed", "symbols", symbols, "dropped", c.droppedTotal())
}

// conn is one SSE client. It owns its queue, watermarks and subscriptions;
// everything is torn down when run returns.
type conn struct {
	srv      *Server
	symbols  []string
	tf       models.Timeframe
	queue    *queue
	batchers map[string]*microBatcher
	subs     []*bus.Subscription

	mu            sync.Mutex
	lastSent      map[string]int64 // per-symbol watermark
	seqViolations atomic.Uint64
}

func (s *Server) newConn(symbols []string, tf models.Timeframe, sinceSeq int64) *conn {
	cap := s.QueueCap
	if cap <= 0 {
		cap = defaultQueueCap
	}
	c := &conn{
		srv:      s,
		symbols:  symbols,
		tf:       tf,
		queue:    newQueue(cap),
		batchers: make(map[string]*microBatcher),
		lastSent: make(map[string]int64),
	}
	for _, sym := range symbols {
		c.lastSent[sym] = sinceSeq
	}
	return c
}

// run drives the connection: subscriptions, seed, pings and the write loop.
// It blocks until the client goes away.
func (c *conn) run(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) {
	defer c.teardown()

	c.queue.push(Event{Name: EventBootstrap, Data: map[string]any{
		"now":       time.Now().UnixMilli(),
		"warm":      c.srv.History != nil,
		"symbols":   c.symbols,
		"timeframe": c.tf.Label,
	}})
	c.queue.push(Event{Name: EventEpoch, Data: map[string]any{
		"epochId":      c.srv.Epoch.ID,
		"epochStartMs": c.srv.Epoch.StartMs,
		"symbols":      c.symbols,
		"timeframe":    c.tf.Label,
	}})

	c.subscribe()

	// Seed asynchronously so live events keep flowing while history loads.
	go c.seed(ctx)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			buffered, dropped := c.queue.stats()
			c.queue.push(Event{Name: EventPing, Data: map[string]any{
				"ts":       time.Now().UnixMilli(),
				"buffered": buffered,
				"dropped":  dropped,
			}})
		case <-c.queue.wake:
			for {
				ev, ok := c.queue.pop()
				if !ok {
					break
				}
				if err := writeEvent(w, ev); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

// subscribe registers the bus listeners. Handlers only enqueue; the write
// loop does the I/O.
func (c *conn) subscribe() {
	b := c.srv.Bus
	for _, sym := range c.symbols {
		sym := sym
		c.subs = append(c.subs, b.Subscribe(bus.TopicBarNew(sym, c.tf.Label), func(ev any) {
			if bar, ok := ev.(models.Bar); ok {
				c.enqueueBar(bar)
			}
		}))
		batcher := newMicroBatcher(func(batch []models.MicroBar) {
			c.queue.push(Event{Name: EventMicroBatch, Data: map[string]any{"microbars": batch}})
		})
		c.batchers[sym] = batcher
		c.subs = append(c.subs, b.Subscribe(bus.TopicMicroBar(sym), func(ev any) {
			if m, ok := ev.(models.MicroBar); ok {
				batcher.add(m)
			}
		}))
		c.subs = append(c.subs, b.Subscribe(bus.TopicTick(sym), func(ev any) {
			if t, ok := ev.(models.Tick); ok {
				c.queue.push(Event{Name: EventTick, Data: t})
			}
		}))
	}
	c.subs = append(c.subs, b.Subscribe(bus.TopicSignalNew, func(ev any) {
		sig, ok := ev.(models.Signal)
		if !ok || !c.watches(sig.Symbol) {
			return
		}
		c.queue.push(Event{Name: EventAlert, Data: sig})
	}))
}

// seed streams the historical gap for each symbol, filtered by the
// connection watermark, before (or alongside) live bars.
func (c *conn) seed(ctx context.Context) {
	if c.srv.History == nil {
		return
	}
	limit := c.srv.SeedLimit
	if limit <= 0 {
		limit = 300
	}
	for _, sym := range c.symbols {
		c.mu.Lock()
		since := c.lastSent[sym]
		c.mu.Unlock()

		q := history.Query{Symbol: sym, Timeframe: c.tf, Limit: limit, SinceSeq: since}
		hist, err := c.srv.History.GetHistory(ctx, q)
		if err != nil {
			slog.Warn("sse: seed failed", "symbol", sym, "error", err)
			continue
		}
		for _, bar := range hist {
			c.enqueueBar(bar)
		}
	}
}

// enqueueBar applies the watermark gate: nothing at or below lastSent may go
// out, and every emission advances the mark. Both the seed and live paths
// funnel through here, so their race cannot produce a decreasing seq.
func (c *conn) enqueueBar(bar models.Bar) {
	c.mu.Lock()
	if bar.Seq <= c.lastSent[bar.Symbol] {
		c.mu.Unlock()
		c.seqViolations.Add(1)
		return
	}
	c.lastSent[bar.Symbol] = bar.Seq
	c.mu.Unlock()

	c.queue.push(Event{
		Name: EventBar,
		ID:   strconv.FormatInt(bar.Seq, 10),
		Data: bar,
	})
}

func (c *conn) watches(symbol string) bool {
	for _, s := range c.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// teardown releases every per-connection resource: bus subscriptions,
// batch timers and the queue.
func (c *conn) teardown() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	for _, b := range c.batchers {
		b.stop()
	}
	c.queue.close()
}

func (c *conn) droppedTotal() uint64 {
	_, dropped := c.queue.stats()
	return dropped + c.seqViolations.Load()
}

// writeEvent serializes one frame in text/event-stream format.
func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		slog.Error("sse: marshal event", "event", ev.Name, "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func splitSymbols(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
