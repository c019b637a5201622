package stream

import (
	"time"

	"github.com/google/uuid"
)

// Event names on the SSE wire.
const (
	EventBootstrap  = "bootstrap"
	EventEpoch      = "epoch"
	EventBar        = "bar"
	EventMicroBatch = "microbar_batch"
	EventAlert      = "alert"
	EventTick       = "tick"
	EventPing       = "ping"
)

// Event is one outbound SSE frame before serialization. ID carries the SSE
// id field (the bar seq) and is empty for non-bar events.
type Event struct {
	Name string
	ID   string
	Data any
}

// Epoch identifies one server process lifetime. Clients treat a changed
// epoch id as a restart and re-seed from their own watermark.
type Epoch struct {
	ID      string `json:"epochId"`
	StartMs int64  `json:"epochStartMs"`
}

// NewEpoch mints the process epoch. Called exactly once at startup.
func NewEpoch() Epoch {
	return Epoch{ID: uuid.NewString(), StartMs: time.Now().UnixMilli()}
}
