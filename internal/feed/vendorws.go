package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

const (
	reconnectBase = 500 * time.Millisecond
	reconnectCap  = 5 * time.Second
	wsReadLimit   = 1 << 20
)

// StatusSink receives source-quality transitions from the feed adapter.
type StatusSink interface {
	SetSource(source, reason string)
}

// VendorWS adapts the market-data vendor's trade WebSocket to TickSource.
// Transient drops reconnect with exponential backoff capped at 5s; auth
// failures are fatal and leave the feed disconnected until reconfigured.
type VendorWS struct {
	url    string
	apiKey string
	status StatusSink

	mu      sync.Mutex
	symbols map[string]bool
	conn    *websocket.Conn

	out chan models.Tick
}

// NewVendorWS creates the adapter. status may be nil.
func NewVendorWS(url, apiKey string, status StatusSink) *VendorWS {
	return &VendorWS{
		url:     url,
		apiKey:  apiKey,
		status:  status,
		symbols: make(map[string]bool),
		out:     make(chan models.Tick, 4096),
	}
}

// Ticks yields the vendor trade prints.
func (v *VendorWS) Ticks() <-chan models.Tick { return v.out }

// Subscribe adds symbols and pushes the subscription to a live connection.
func (v *VendorWS) Subscribe(symbols ...string) {
	v.mu.Lock()
	conn := v.conn
	for _, s := range symbols {
		v.symbols[s] = true
	}
	v.mu.Unlock()
	if conn != nil {
		v.sendSubscribe(conn, "subscribe", symbols)
	}
}

// Unsubscribe removes symbols and pushes the change to a live connection.
func (v *VendorWS) Unsubscribe(symbols ...string) {
	v.mu.Lock()
	conn := v.conn
	for _, s := range symbols {
		delete(v.symbols, s)
	}
	v.mu.Unlock()
	if conn != nil {
		v.sendSubscribe(conn, "unsubscribe", symbols)
	}
}

// Start runs the connect/read loop until ctx is cancelled or a fatal auth
// error occurs.
func (v *VendorWS) Start(ctx context.Context) error {
	defer close(v.out)
	backoff := reconnectBase

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := v.runConn(ctx)
		switch {
		case err == nil:
			return nil
		case isFatal(err):
			if v.status != nil {
				v.status.SetSource("sim", "vendor auth failed")
			}
			slog.Error("feed: fatal vendor error, staying disconnected", "error", err)
			return fmt.Errorf("%w: %v", ErrFeedFatal, err)
		default:
			if v.status != nil {
				v.status.SetSource("sim", "vendor disconnected")
			}
			slog.Warn("feed: vendor dropped, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
		}
	}
}

func (v *VendorWS) runConn(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, v.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	if err := conn.WriteJSON(map[string]string{"action": "auth", "params": v.apiKey}); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}

	v.mu.Lock()
	v.conn = conn
	syms := make([]string, 0, len(v.symbols))
	for s := range v.symbols {
		syms = append(syms, s)
	}
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.conn = nil
		v.mu.Unlock()
	}()

	if len(syms) > 0 {
		v.sendSubscribe(conn, "subscribe", syms)
	}
	if v.status != nil {
		v.status.SetSource("vendor", "")
	}
	slog.Info("feed: vendor connected", "symbols", len(syms))

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := v.handleMessage(data); err != nil {
			return err
		}
	}
}

type vendorMsg struct {
	Ev      string  `json:"ev"`
	Sym     string  `json:"sym"`
	Price   float64 `json:"p"`
	Size    float64 `json:"s"`
	TS      int64   `json:"t"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
}

func (v *VendorWS) handleMessage(data []byte) error {
	var msgs []vendorMsg
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Some control frames arrive as a single object.
		var one vendorMsg
		if err := json.Unmarshal(data, &one); err != nil {
			slog.Warn("feed: unparsable vendor message")
			return nil
		}
		msgs = []vendorMsg{one}
	}

	for _, m := range msgs {
		if m.Status == "auth_failed" {
			return fmt.Errorf("auth rejected: %s", m.Message)
		}
		if m.Ev != "T" || m.Sym == "" {
			continue
		}
		t := models.Tick{Symbol: m.Sym, TS: m.TS, Price: m.Price, Size: m.Size}
		select {
		case v.out <- t:
		default:
			// Consumer stalled; drop rather than block the read loop.
		}
	}
	return nil
}

func (v *VendorWS) sendSubscribe(conn *websocket.Conn, action string, symbols []string) {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, "T."+s)
	}
	if err := conn.WriteJSON(map[string]string{"action": action, "params": strings.Join(params, ",")}); err != nil {
		slog.Warn("feed: subscription write failed", "action", action, "error", err)
	}
}

func isFatal(err error) bool {
	return strings.Contains(err.Error(), "auth rejected")
}
