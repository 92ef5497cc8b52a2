package sync

import (
	"time"

	"github.com/platewise/mealsync/internal/models"
)

// EventType identifies what happened during queue processing.
type EventType string

const (
	// EventEnqueued fires when Sync accepts new domain data.
	EventEnqueued EventType = "enqueued"

	// EventDrainStarted fires when a drain begins processing.
	EventDrainStarted EventType = "drain_started"

	// EventItemSynced fires per payload confirmed by the backend.
	EventItemSynced EventType = "item_synced"

	// EventItemFailed fires per payload whose upload failed.
	EventItemFailed EventType = "item_failed"

	// EventItemExhausted fires when a failure consumes the payload's
	// last retry.
	EventItemExhausted EventType = "item_exhausted"

	// EventDrainFinished fires when a drain completes; Result is set.
	EventDrainFinished EventType = "drain_finished"

	// EventPaused and EventResumed track the pause gate.
	EventPaused  EventType = "paused"
	EventResumed EventType = "resumed"
)

// Event is a progress notification for UI layers. Delivery is best
// effort: slow consumers lose events, the queue never blocks on them.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Domain    models.Domain
	PayloadID string
	Error     string
	Result    *models.DrainResult
}
