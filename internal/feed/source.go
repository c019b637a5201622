package feed

import (
	"context"
	"errors"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// ErrFeedFatal marks authentication/configuration failures: the feed stays
// disconnected until reconfigured. Transient drops are retried internally.
var ErrFeedFatal = errors.New("feed: fatal error")

// TickSource is the generic upstream trade feed the pipeline consumes. The
// vendor adapter and the simulator both implement it; downstream code never
// knows which is attached.
type TickSource interface {
	// Start begins delivery on Ticks until ctx is cancelled. It returns
	// ErrFeedFatal (wrapped) for unrecoverable auth/config failures.
	Start(ctx context.Context) error

	// Subscribe adds symbols to the live set.
	Subscribe(symbols ...string)

	// Unsubscribe removes symbols from the live set.
	Unsubscribe(symbols ...string)

	// Ticks yields trade prints. The channel closes when the source stops.
	Ticks() <-chan models.Tick
}
