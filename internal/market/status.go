package market

import (
	"sync"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// Checker computes NYSE market status and tracks the active data source.
type Checker struct {
	mu      sync.RWMutex
	session string // "RTH" | "RTH_EXT"
	source  string // "vendor" | "sim" | "mock" | "replay"
	reason  string
}

// NewChecker creates a market status Checker for the configured session kind.
func NewChecker(session string) *Checker {
	if session != "RTH_EXT" {
		session = "RTH"
	}
	return &Checker{session: session, source: "sim"}
}

// SetSource records the active data source and an optional degradation
// reason. Feed adapters call this on connect, disconnect and fatal errors.
func (c *Checker) SetSource(source, reason string) {
	c.mu.Lock()
	c.source = source
	c.reason = reason
	c.mu.Unlock()
}

// IsMarketOpen returns true if the configured session is currently active.
func (c *Checker) IsMarketOpen() bool {
	return c.isOpen(time.Now().UnixMilli())
}

func (c *Checker) isOpen(tsMs int64) bool {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == "RTH_EXT" {
		return IsExtendedTradingHours(tsMs)
	}
	return IsRegularTradingHours(tsMs)
}

// Status returns the full market status including next open/close times.
func (c *Checker) Status() models.MarketStatus {
	return c.StatusAt(time.Now())
}

// StatusAt computes the status as of a given instant.
func (c *Checker) StatusAt(now time.Time) models.MarketStatus {
	c.mu.RLock()
	source, reason, session := c.source, c.reason, c.session
	c.mu.RUnlock()

	open := c.isOpen(now.UnixMilli())
	st := models.MarketStatus{
		Source:  source,
		Reason:  reason,
		Session: session,
		Open:    open,
	}
	if !open {
		st.Session = "closed"
		next := nextMarketOpen(now)
		st.NextOpen = &next
	} else {
		close := todayClose(now)
		st.NextClose = &close
	}
	return st
}
