// Package sync coordinates the durable queue, per-domain strategies,
// and connectivity into one drain pipeline. The manager never invents
// domain behavior: strategies own validation, upload, and
// reconciliation, while the manager owns ordering, retry bookkeeping,
// and the single-flight guarantee.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/netwatch"
	"github.com/platewise/mealsync/internal/queue"
)

const defaultEventBuffer = 100

// Manager drains the sync queue against registered strategies. At most
// one drain runs at a time: explicit triggers that lose the race get
// models.ErrSyncInProgress, scheduled triggers coalesce silently.
type Manager struct {
	queue   *queue.Queue
	watcher netwatch.Watcher
	logger  *events.Logger

	backoff    Backoff
	batchLimit int
	interval   time.Duration
	appVersion string

	stratMu    sync.RWMutex
	strategies map[models.Domain]Strategy

	mu           sync.Mutex
	draining     bool
	paused       bool
	started      bool
	activeDomain models.Domain
	lastSyncAt   time.Time
	cancelDrain  context.CancelFunc
	eventsClosed bool
	unsubscribe  func()

	events    chan Event
	nudges    chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option customizes a Manager at construction time.
type Option func(*Manager)

// WithBackoff overrides the failure backoff policy.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithBatchLimit caps how many items a scheduled drain attempts.
func WithBatchLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchLimit = n
		}
	}
}

// WithDrainInterval sets the periodic drain cadence for Start. Zero
// leaves the timer off; connectivity edges and nudges still drain.
func WithDrainInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithAppVersion stamps diagnostics reports.
func WithAppVersion(v string) Option {
	return func(m *Manager) { m.appVersion = v }
}

// New wires a manager from its dependencies. Strategies are registered
// separately so construction stays flat; call Start to enable
// background drains.
func New(q *queue.Queue, watcher netwatch.Watcher, logger *events.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	}
	m := &Manager{
		queue:      q,
		watcher:    watcher,
		logger:     logger.WithField("component", "sync_manager"),
		backoff:    Backoff{Base: 30 * time.Second, Max: time.Hour},
		batchLimit: 20,
		strategies: make(map[models.Domain]Strategy),
		events:     make(chan Event, defaultEventBuffer),
		nudges:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterStrategy installs the handler for a domain. Registering the
// same domain twice replaces the previous handler.
func (m *Manager) RegisterStrategy(s Strategy) {
	m.stratMu.Lock()
	defer m.stratMu.Unlock()
	if _, exists := m.strategies[s.Domain()]; exists {
		m.logger.WithField("domain", string(s.Domain())).Debug("Replacing sync strategy")
	}
	m.strategies[s.Domain()] = s
}

func (m *Manager) strategy(domain models.Domain) (Strategy, bool) {
	m.stratMu.RLock()
	defer m.stratMu.RUnlock()
	s, ok := m.strategies[domain]
	return s, ok
}

// Sync validates domain data, persists it as a payload, and returns
// the payload ID. It never uploads; pushing queued work to the backend
// is the drain's job. Validation failures are returned synchronously
// and nothing is persisted.
func (m *Manager) Sync(ctx context.Context, domain models.Domain, data interface{}) (string, error) {
	strat, ok := m.strategy(domain)
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrNoStrategy, domain)
	}

	if err := strat.Validate(data); err != nil {
		return "", err
	}

	p, err := strat.Prepare(data)
	if err != nil {
		return "", fmt.Errorf("prepare %s payload: %w", domain, err)
	}

	stored, err := m.queue.Add(ctx, p.Domain, p.Data, p.Priority, p.MaxRetries)
	if err != nil {
		return "", fmt.Errorf("enqueue %s payload: %w", domain, err)
	}

	m.emit(Event{
		Type:      EventEnqueued,
		Timestamp: time.Now().UTC(),
		Domain:    stored.Domain,
		PayloadID: stored.ID,
	})
	m.logger.WithFields(map[string]interface{}{
		"payload_id": stored.ID,
		"domain":     string(stored.Domain),
		"priority":   stored.Priority,
	}).Debug("Payload enqueued")

	return stored.ID, nil
}

// SyncBatch drains up to limit eligible items across all domains,
// honoring per-payload backoff windows. A limit of zero or less falls
// back to the configured batch size.
func (m *Manager) SyncBatch(ctx context.Context, limit int) (*models.DrainResult, error) {
	if limit <= 0 {
		limit = m.batchLimit
	}
	return m.drain(ctx, drainSpec{mode: drainScheduled, limit: limit, explicit: true})
}

// SyncDomain drains every queued item for one domain. Backoff windows
// are ignored because the user asked explicitly; exhausted items are
// still skipped.
func (m *Manager) SyncDomain(ctx context.Context, domain models.Domain) (*models.DrainResult, error) {
	return m.drain(ctx, drainSpec{mode: drainExplicit, domain: domain, explicit: true})
}

// SyncAll drains the whole queue, ignoring backoff windows. It keeps
// taking passes while new items arrive mid-drain, but attempts each
// payload at most once per call so a failing item cannot burn its
// entire retry budget in one invocation.
func (m *Manager) SyncAll(ctx context.Context) (*models.DrainResult, error) {
	return m.drain(ctx, drainSpec{mode: drainExplicit, explicit: true, multiPass: true})
}

// Status derives the unified read model from connectivity, drain
// state, and queue stats.
func (m *Manager) Status() models.GlobalSyncStatus {
	m.mu.Lock()
	status := models.GlobalSyncStatus{
		Paused:       m.paused,
		Draining:     m.draining,
		LastSyncAt:   m.lastSyncAt,
		ActiveDomain: m.activeDomain,
	}
	m.mu.Unlock()

	status.IsOnline = m.watcher.Online()
	status.Queue = m.queue.Stats()
	return status
}

// PendingCount reports non-exhausted payloads for one domain, or for
// the whole queue when domain is empty.
func (m *Manager) PendingCount(domain models.Domain) int {
	return m.queue.PendingCount(domain)
}

// RetryExhausted puts one exhausted payload back in rotation and asks
// the background loop to look at the queue. The retry count is
// preserved: a returned payload gets one more attempt, not a fresh
// budget.
func (m *Manager) RetryExhausted(ctx context.Context, id string) error {
	if err := m.queue.Reactivate(ctx, id); err != nil {
		return err
	}
	m.logger.WithField("payload_id", id).Info("Exhausted payload returned to rotation")
	m.Nudge()
	return nil
}

// RemoveExhausted deletes one exhausted payload for good. Pending
// payloads cannot be removed this way; the queue owns their lifecycle
// until they sync or exhaust.
func (m *Manager) RemoveExhausted(ctx context.Context, id string) error {
	p, err := m.queue.Get(id)
	if err != nil {
		return err
	}
	if !p.Exhausted {
		return fmt.Errorf("%w: %s", models.ErrNotExhausted, id)
	}
	return m.queue.Remove(ctx, id)
}

// ClearAll drops every queued payload, synced or not. Destructive;
// meant for logout and account deletion flows.
func (m *Manager) ClearAll(ctx context.Context) error {
	return m.queue.Clear(ctx)
}

// ClearExhausted drops only payloads that have burned their retry
// budget. Pending work is untouched.
func (m *Manager) ClearExhausted(ctx context.Context) error {
	return m.queue.ClearExhausted(ctx)
}

// Pause stops drains after the current item completes. In-flight
// uploads are never preempted.
func (m *Manager) Pause() {
	m.mu.Lock()
	already := m.paused
	m.paused = true
	m.mu.Unlock()
	if already {
		return
	}

	m.logger.Info("Sync paused")
	m.emit(Event{Type: EventPaused, Timestamp: time.Now().UTC()})
}

// Resume lifts the pause gate and schedules a drain.
func (m *Manager) Resume() {
	m.mu.Lock()
	already := !m.paused
	m.paused = false
	m.mu.Unlock()
	if already {
		return
	}

	m.logger.Info("Sync resumed")
	m.emit(Event{Type: EventResumed, Timestamp: time.Now().UTC()})
	m.Nudge()
}

// Paused reports whether the pause gate is set.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Diagnostics returns a serializable snapshot of status and queue
// contents for support bundles. It never drives behavior.
func (m *Manager) Diagnostics() *models.DiagnosticsReport {
	return &models.DiagnosticsReport{
		GeneratedAt: time.Now().UTC(),
		AppVersion:  m.appVersion,
		Status:      m.Status(),
		Items:       m.queue.All(),
	}
}

// Events exposes the progress stream. Slow consumers lose events
// rather than blocking drains. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Nudge asks the background loop to drain soon. Safe from any
// goroutine; redundant nudges coalesce into one drain.
func (m *Manager) Nudge() {
	select {
	case m.nudges <- struct{}{}:
	default:
	}
}

// Start launches the background loop: connectivity edges, the periodic
// timer, and nudges all funnel into scheduled drains. Start returns
// immediately; cancel ctx or call Close to stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.logger.Warn("Sync manager already started")
		return
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.watcher.Subscribe(func(online bool) {
		if online {
			m.logger.Debug("Connectivity restored, scheduling drain")
			m.Nudge()
		}
	})
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
}

// Close stops the background loop, cancels any in-flight drain at the
// next item boundary, and closes the event stream. Idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		unsubscribe := m.unsubscribe
		cancel := m.cancelDrain
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		if cancel != nil {
			cancel()
		}

		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		m.eventsClosed = true
		close(m.events)
		m.mu.Unlock()

		m.logger.Debug("Sync manager closed")
	})
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-m.nudges:
			m.scheduledDrain(ctx)
		case <-tick:
			m.scheduledDrain(ctx)
		}
	}
}

func (m *Manager) scheduledDrain(ctx context.Context) {
	if _, err := m.drain(ctx, drainSpec{mode: drainScheduled, limit: m.batchLimit}); err != nil {
		m.logger.WithError(err).Error("Scheduled drain failed")
	}
}

type drainMode int

const (
	// drainScheduled honors per-payload backoff windows.
	drainScheduled drainMode = iota
	// drainExplicit ignores backoff windows. Exhausted payloads are
	// skipped in both modes.
	drainExplicit
)

type drainSpec struct {
	mode      drainMode
	domain    models.Domain // empty means all domains
	limit     int           // <= 0 means unlimited
	explicit  bool          // loud gate errors vs silent skip
	multiPass bool          // re-snapshot until no new work appears
}

func (m *Manager) drain(ctx context.Context, spec drainSpec) (*models.DrainResult, error) {
	ok, err := m.acquire(spec.explicit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.DrainResult{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelDrain = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.draining = false
		m.activeDomain = ""
		m.cancelDrain = nil
		m.mu.Unlock()
	}()

	start := time.Now()
	result := &models.DrainResult{}
	m.emit(Event{Type: EventDrainStarted, Timestamp: start.UTC(), Domain: spec.domain})
	m.logger.WithFields(map[string]interface{}{
		"domain":   string(spec.domain),
		"explicit": spec.explicit,
	}).Debug("Drain started")

	attempted := make(map[string]bool)

passes:
	for {
		batch := m.eligible(spec, attempted)
		if len(batch) == 0 {
			break
		}

		for _, p := range batch {
			if ctx.Err() != nil {
				break passes
			}
			if m.Paused() {
				break passes
			}
			if !m.watcher.Online() {
				break passes
			}
			if spec.limit > 0 && result.Processed+result.Failed >= spec.limit {
				break passes
			}

			attempted[p.ID] = true
			m.processItem(ctx, p, result)
		}

		if !spec.multiPass {
			break
		}
	}

	result.Duration = time.Since(start)

	m.mu.Lock()
	if result.Processed > 0 {
		m.lastSyncAt = time.Now().UTC()
	}
	m.mu.Unlock()

	m.emit(Event{
		Type:      EventDrainFinished,
		Timestamp: time.Now().UTC(),
		Domain:    spec.domain,
		Result:    result,
	})

	log := m.logger.WithFields(map[string]interface{}{
		"processed":   result.Processed,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	})
	if result.Processed+result.Failed > 0 {
		log.Info("Drain finished")
	} else {
		log.Debug("Drain finished with no eligible items")
	}

	return result, nil
}

// acquire takes the drain slot. Background triggers report a plain
// skip; explicit triggers get told why.
func (m *Manager) acquire(explicit bool) (bool, error) {
	if !m.watcher.Online() {
		if explicit {
			return false, models.ErrOffline
		}
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		if explicit {
			return false, models.ErrSyncPaused
		}
		return false, nil
	}
	if m.draining {
		if explicit {
			return false, models.ErrSyncInProgress
		}
		return false, nil
	}

	m.draining = true
	return true, nil
}

// eligible snapshots drain candidates in order: priority ascending,
// then oldest first. The queue already sorts; this filters.
func (m *Manager) eligible(spec drainSpec, attempted map[string]bool) []*models.SyncPayload {
	var items []*models.SyncPayload
	if spec.domain != "" {
		items = m.queue.ByDomain(spec.domain)
	} else {
		items = m.queue.All()
	}

	now := time.Now().UTC()
	out := items[:0]
	for _, p := range items {
		if p.Exhausted || attempted[p.ID] {
			continue
		}
		if spec.mode == drainScheduled && !p.Eligible(now) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m *Manager) processItem(ctx context.Context, p *models.SyncPayload, result *models.DrainResult) {
	// The snapshot may be stale: the operator can remove items while a
	// drain is running.
	current, err := m.queue.Get(p.ID)
	if err != nil {
		return
	}
	p = current

	m.mu.Lock()
	m.activeDomain = p.Domain
	m.mu.Unlock()

	strat, ok := m.strategy(p.Domain)
	if !ok {
		m.recordFailure(ctx, nil, p, fmt.Errorf("%w: %s", models.ErrNoStrategy, p.Domain), result)
		return
	}

	log := m.logger.WithFields(map[string]interface{}{
		"payload_id": p.ID,
		"domain":     string(p.Domain),
		"attempt":    p.RetryCount + 1,
	})
	log.Debug("Uploading payload")

	res, err := strat.Upload(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is not a payload failure; the item keeps
			// its retry budget and stays queued.
			return
		}
		m.recordFailure(ctx, strat, p, err, result)
		return
	}

	if err := strat.OnSuccess(ctx, res, p); err != nil {
		log.WithError(err).Error("Post-sync reconciliation failed")
	}
	if err := m.queue.Remove(ctx, p.ID); err != nil && !errors.Is(err, models.ErrPayloadNotFound) {
		log.WithError(err).Error("Failed to remove synced payload")
	}

	result.Processed++
	m.emit(Event{
		Type:      EventItemSynced,
		Timestamp: time.Now().UTC(),
		Domain:    p.Domain,
		PayloadID: p.ID,
	})
	log.Debug("Payload synced")
}

func (m *Manager) recordFailure(ctx context.Context, strat Strategy, p *models.SyncPayload, uploadErr error, result *models.DrainResult) {
	if strat != nil {
		m.notifyFailure(strat, uploadErr, p)
	}

	next := m.backoff.NextAttempt(time.Now().UTC(), p.RetryCount)
	updated, err := m.queue.RecordFailure(ctx, p.ID, next)
	if err != nil && !errors.Is(err, models.ErrPayloadNotFound) {
		m.logger.WithError(err).WithField("payload_id", p.ID).Error("Failed to record payload failure")
	}

	result.Failed++
	result.Errors = append(result.Errors, models.ItemError{
		ID:     p.ID,
		Domain: p.Domain,
		Err:    uploadErr.Error(),
	})

	syncErr := &models.SyncError{
		PayloadID: p.ID,
		Domain:    p.Domain,
		Attempt:   p.RetryCount + 1,
		Err:       uploadErr,
	}
	m.logger.WithError(syncErr).Warn("Payload upload failed")
	m.emit(Event{
		Type:      EventItemFailed,
		Timestamp: time.Now().UTC(),
		Domain:    p.Domain,
		PayloadID: p.ID,
		Error:     uploadErr.Error(),
	})

	if updated != nil && updated.Exhausted {
		m.logger.WithFields(map[string]interface{}{
			"payload_id":  p.ID,
			"domain":      string(p.Domain),
			"retry_count": updated.RetryCount,
		}).Error("Payload exhausted retry budget")
		m.emit(Event{
			Type:      EventItemExhausted,
			Timestamp: time.Now().UTC(),
			Domain:    p.Domain,
			PayloadID: p.ID,
			Error:     uploadErr.Error(),
		})
	}
}

// notifyFailure shields the drain from misbehaving hooks. Queue
// bookkeeping is authoritative; the hook is best effort.
func (m *Manager) notifyFailure(strat Strategy, err error, p *models.SyncPayload) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(map[string]interface{}{
				"payload_id": p.ID,
				"panic":      r,
			}).Error("Failure hook panicked")
		}
	}()
	strat.OnFailure(err, p)
}

// emit delivers an event without ever blocking a drain. When the
// buffer is full the event is dropped.
func (m *Manager) emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventsClosed {
		return
	}
	select {
	case m.events <- event:
	default:
		m.logger.Debug("Event channel full, dropping event")
	}
}
