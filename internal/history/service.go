package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bars"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// Source is a provider of base 1m bars for a symbol and time range.
type Source interface {
	Fetch1m(ctx context.Context, symbol string, fromMs, toMs int64, limit int) ([]models.Bar, error)
}

// Query describes one history request. Before and SinceSeq are optional
// (zero means unset).
type Query struct {
	Symbol    string
	Timeframe models.Timeframe
	Limit     int
	Before    int64 // ms epoch upper bound, exclusive of later bars
	SinceSeq  int64 // only bars with seq strictly greater
}

func (q Query) key() string {
	return fmt.Sprintf("%s|%s|%d|%d|%d", q.Symbol, q.Timeframe.Label, q.Limit, q.Before, q.SinceSeq)
}

// Service is the read-through backfill path: ring buffer, then the persisted
// bar store, then vendor REST, then (behind a debug flag) the deterministic
// mock. It always fetches base 1m bars and rolls up to the requested
// timeframe, preserving the seq law everywhere.
type Service struct {
	store       *bars.Store
	db          Source
	vendor      Source
	mock        *MockGenerator
	mockEnabled bool

	sf       singleflight.Group
	inflight *inflightTable
	nowMs    func() int64
}

// NewService wires the resolution chain. db and vendor may be nil when not
// configured; mock is consulted only when mockEnabled.
func NewService(store *bars.Store, db, vendor Source, mockEnabled bool) *Service {
	return &Service{
		store:       store,
		db:          db,
		vendor:      vendor,
		mock:        NewMockGenerator(),
		mockEnabled: mockEnabled,
		inflight:    newInflightTable(),
		nowMs:       func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the wall clock, for tests.
func (s *Service) SetClock(nowMs func() int64) { s.nowMs = nowMs }

// GetHistory returns finalized bars satisfying the query. Concurrent calls
// with an identical query share one underlying resolution; the shared work
// is cancelled only when every waiter has gone away.
func (s *Service) GetHistory(ctx context.Context, q Query) ([]models.Bar, error) {
	if q.Limit <= 0 {
		q.Limit = 300
	}
	if q.Timeframe.Minutes == 0 {
		q.Timeframe = models.TF1m
	}

	// Ring fast paths never block; no need to coalesce them.
	if out, ok := s.fromRing(q); ok {
		return out, nil
	}
	return s.coalesced(ctx, q)
}

// fromRing serves the two ring-buffer fast paths of the resolution order.
func (s *Service) fromRing(q Query) ([]models.Bar, bool) {
	if q.Timeframe.Minutes != 1 || q.Before != 0 {
		return nil, false
	}
	ring := s.store.Ring(q.Symbol)

	if q.SinceSeq > 0 {
		out := ring.Since(q.SinceSeq)
		if len(out) > q.Limit {
			out = out[len(out)-q.Limit:]
		}
		return out, true
	}

	min := q.Limit
	if min > 10 {
		min = 10
	}
	if ring.Len() >= min {
		return ring.Last(q.Limit), true
	}
	return nil, false
}

func (s *Service) coalesced(ctx context.Context, q Query) ([]models.Bar, error) {
	key := q.key()
	workCtx, release := s.inflight.acquire(key)
	defer release()

	ch := s.sf.DoChan(key, func() (any, error) {
		defer s.sf.Forget(key)
		return s.resolve(workCtx, q)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.Bar), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve runs the slow half of the resolution order: persisted store, then
// vendor, then mock. The result is rolled to the requested timeframe,
// filtered by sinceSeq and truncated to the trailing limit.
func (s *Service) resolve(ctx context.Context, q Query) ([]models.Bar, error) {
	need := q.Limit * q.Timeframe.Minutes
	to := q.Before
	if to == 0 {
		to = s.nowMs()
	}
	from := to - int64(need)*60_000

	base := s.fetchBase(ctx, q.Symbol, from, to, need)

	if len(base) == 0 && s.mockEnabled {
		base = s.mock.Generate1m(q.Symbol, from, to, need)
		if len(base) > 0 {
			slog.Debug("history: serving mock bars", "symbol", q.Symbol, "count", len(base))
		}
	}
	if len(base) == 0 {
		return []models.Bar{}, nil
	}

	// Paginated historical scrolls (before set) must not pollute the
	// authoritative buffer.
	if q.Before == 0 {
		s.store.Merge(q.Symbol, base)
	}

	out := bars.RollupFrom1m(base, q.Timeframe, false)
	if q.SinceSeq > 0 {
		filtered := out[:0]
		for _, b := range out {
			if b.Seq > q.SinceSeq {
				filtered = append(filtered, b)
			}
		}
		out = filtered
	}
	if len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (s *Service) fetchBase(ctx context.Context, symbol string, from, to int64, limit int) []models.Bar {
	if s.db != nil {
		got, err := s.db.Fetch1m(ctx, symbol, from, to, limit)
		if err != nil {
			slog.Warn("history: db fetch failed", "error", err, "symbol", symbol)
		} else if len(got) > 0 {
			return got
		}
	}
	if s.vendor != nil {
		got, err := s.vendor.Fetch1m(ctx, symbol, from, to, limit)
		if err == nil && len(got) > 0 {
			return got
		}
	}
	return nil
}
