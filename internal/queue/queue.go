package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/store"
)

// StorageKey is the record key holding the serialized queue.
const StorageKey = "sync_queue"

// Queue owns the ordered collection of pending sync payloads. All
// mutations persist the whole collection before they are visible to
// readers, so a crash never observes a half-applied change.
type Queue struct {
	store  store.Store
	logger *events.Logger

	mu    sync.RWMutex
	items []*models.SyncPayload
	ready bool
}

// New creates a queue on top of a record store. Call Initialize before
// any mutation.
func New(st store.Store, logger *events.Logger) *Queue {
	return &Queue{
		store:  st,
		logger: logger.WithField("component", "sync_queue"),
	}
}

// Initialize loads the persisted queue. Idempotent. A missing record
// means a first run; unreadable or corrupt data degrades to an empty
// queue with a warning, because refusing to start the client over a
// damaged queue file would take every feature down with it.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready {
		return nil
	}

	data, err := q.store.Load(ctx, StorageKey)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		q.logger.Debug("No persisted queue found, starting empty")
	case err != nil:
		q.logger.WithError(err).Warn("Failed to load sync queue, starting empty")
	default:
		var loaded []*models.SyncPayload
		if err := json.Unmarshal(data, &loaded); err != nil {
			q.logger.WithError(err).Warn("Corrupt sync queue record, starting empty")
			break
		}

		for _, p := range loaded {
			if err := p.Validate(); err != nil {
				q.logger.WithFields(map[string]interface{}{
					"id":    p.ID,
					"error": err.Error(),
				}).Warn("Dropping invalid queued payload")
				continue
			}
			q.items = append(q.items, p)
		}
	}

	q.ready = true

	q.logger.WithField("items", len(q.items)).Info("Sync queue initialized")
	return nil
}

// Add enqueues a new payload and persists the queue. Storage failures
// propagate to the caller; a silently dropped enqueue loses user data.
func (q *Queue) Add(ctx context.Context, domain models.Domain, data json.RawMessage, priority, maxRetries int) (*models.SyncPayload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return nil, models.ErrQueueNotReady
	}

	payload := models.NewSyncPayload(domain, data, priority, maxRetries)
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}

	next := append(append([]*models.SyncPayload{}, q.items...), payload)
	if err := q.persist(ctx, next); err != nil {
		return nil, fmt.Errorf("persist queue: %w", err)
	}
	q.items = next

	q.logger.WithFields(map[string]interface{}{
		"id":       payload.ID,
		"domain":   payload.Domain,
		"priority": payload.Priority,
		"total":    len(q.items),
	}).Debug("Enqueued payload")

	return payload.Clone(), nil
}

// All returns a snapshot of every queued payload in drain order:
// priority ascending, then FIFO by creation time.
func (q *Queue) All() []*models.SyncPayload {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return sortSnapshot(q.items, nil)
}

// ByDomain returns the drain-ordered snapshot of one domain's payloads.
func (q *Queue) ByDomain(domain models.Domain) []*models.SyncPayload {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return sortSnapshot(q.items, func(p *models.SyncPayload) bool {
		return p.Domain == domain
	})
}

// ByPriority returns the drain-ordered snapshot of one priority level.
func (q *Queue) ByPriority(priority int) []*models.SyncPayload {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return sortSnapshot(q.items, func(p *models.SyncPayload) bool {
		return p.Priority == priority
	})
}

// Get returns a copy of one payload.
func (q *Queue) Get(id string) (*models.SyncPayload, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, p := range q.items {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return nil, models.ErrPayloadNotFound
}

// Remove deletes one payload. Used on terminal success and on
// exhausted-item eviction.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return models.ErrQueueNotReady
	}

	idx := indexOf(q.items, id)
	if idx < 0 {
		return models.ErrPayloadNotFound
	}

	next := append(append([]*models.SyncPayload{}, q.items[:idx]...), q.items[idx+1:]...)
	if err := q.persist(ctx, next); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	q.items = next

	q.logger.WithFields(map[string]interface{}{
		"id":    id,
		"total": len(q.items),
	}).Debug("Removed payload")

	return nil
}

// RecordFailure increments a payload's retry count by exactly one,
// stamps its next attempt window, and flips it to exhausted when the
// cap is reached. Returns the updated copy. Already-exhausted payloads
// are rejected with ErrPayloadExhausted so the count can never move
// past the cap.
func (q *Queue) RecordFailure(ctx context.Context, id string, nextAttempt time.Time) (*models.SyncPayload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return nil, models.ErrQueueNotReady
	}

	idx := indexOf(q.items, id)
	if idx < 0 {
		return nil, models.ErrPayloadNotFound
	}
	if q.items[idx].Exhausted {
		return nil, models.ErrPayloadExhausted
	}

	updated := q.items[idx].Clone()
	if updated.RetryCount < updated.MaxRetries {
		updated.RetryCount++
	}
	updated.NextAttemptAt = nextAttempt
	if updated.RetryCount >= updated.MaxRetries {
		updated.Exhausted = true
	}

	next := append([]*models.SyncPayload{}, q.items...)
	next[idx] = updated
	if err := q.persist(ctx, next); err != nil {
		return nil, fmt.Errorf("persist queue: %w", err)
	}
	q.items = next

	q.logger.WithFields(map[string]interface{}{
		"id":          updated.ID,
		"domain":      updated.Domain,
		"retry_count": updated.RetryCount,
		"max_retries": updated.MaxRetries,
		"exhausted":   updated.Exhausted,
	}).Info("Recorded payload failure")

	return updated.Clone(), nil
}

// Reactivate clears the exhausted flag and backoff window so manual
// retry can attempt the payload again. The retry count is preserved:
// manual retries still count toward the cap.
func (q *Queue) Reactivate(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return models.ErrQueueNotReady
	}

	idx := indexOf(q.items, id)
	if idx < 0 {
		return models.ErrPayloadNotFound
	}
	if !q.items[idx].Exhausted {
		return models.ErrNotExhausted
	}

	updated := q.items[idx].Clone()
	updated.Exhausted = false
	updated.NextAttemptAt = time.Time{}

	next := append([]*models.SyncPayload{}, q.items...)
	next[idx] = updated
	if err := q.persist(ctx, next); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	q.items = next

	q.logger.WithFields(map[string]interface{}{
		"id":          updated.ID,
		"retry_count": updated.RetryCount,
	}).Info("Reactivated exhausted payload")

	return nil
}

// Clear removes every payload.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return models.ErrQueueNotReady
	}

	if err := q.persist(ctx, nil); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	removed := len(q.items)
	q.items = nil

	q.logger.WithField("removed", removed).Info("Cleared sync queue")
	return nil
}

// ClearExhausted removes only payloads that have exhausted their retries.
func (q *Queue) ClearExhausted(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ready {
		return models.ErrQueueNotReady
	}

	var next []*models.SyncPayload
	for _, p := range q.items {
		if !p.Exhausted {
			next = append(next, p)
		}
	}

	if len(next) == len(q.items) {
		return nil
	}

	if err := q.persist(ctx, next); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	removed := len(q.items) - len(next)
	q.items = next

	q.logger.WithField("removed", removed).Info("Cleared exhausted payloads")
	return nil
}

// Stats aggregates queue composition.
func (q *Queue) Stats() models.QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := models.QueueStats{
		Total:      len(q.items),
		ByDomain:   make(map[models.Domain]int),
		ByPriority: make(map[int]int),
	}

	for _, p := range q.items {
		stats.ByDomain[p.Domain]++
		stats.ByPriority[p.Priority]++
		if p.Exhausted {
			stats.Exhausted++
		}
		if stats.OldestCreatedAt.IsZero() || p.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = p.CreatedAt
		}
	}

	return stats
}

// Len returns the total number of queued payloads.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// PendingCount counts non-exhausted payloads. An empty domain counts
// across all domains.
func (q *Queue) PendingCount(domain models.Domain) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	count := 0
	for _, p := range q.items {
		if p.Exhausted {
			continue
		}
		if domain != "" && p.Domain != domain {
			continue
		}
		count++
	}
	return count
}

// persist writes the given item set. Callers commit to memory only
// after persistence succeeds.
func (q *Queue) persist(ctx context.Context, items []*models.SyncPayload) error {
	if items == nil {
		items = []*models.SyncPayload{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	return q.store.Save(ctx, StorageKey, data)
}

func indexOf(items []*models.SyncPayload, id string) int {
	for i, p := range items {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// sortSnapshot clones matching items and orders them for draining:
// priority ascending, createdAt ascending. The stable sort keeps
// insertion order for items created within the same millisecond.
func sortSnapshot(items []*models.SyncPayload, match func(*models.SyncPayload) bool) []*models.SyncPayload {
	var out []*models.SyncPayload
	for _, p := range items {
		if match == nil || match(p) {
			out = append(out, p.Clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}
