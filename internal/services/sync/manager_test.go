package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/netwatch"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/store"
)

// fakeStrategy is a scriptable strategy for exercising the manager
// without real domain services.
type fakeStrategy struct {
	domain     models.Domain
	priority   int
	maxRetries int

	mu        sync.Mutex
	uploads   []string
	successes []string
	failures  []string

	validateErr  error
	uploadErr    error
	uploadFunc   func(ctx context.Context, p *models.SyncPayload) (*UploadResult, error)
	onSuccessErr error
	panicOnFail  bool
}

func newFakeStrategy(domain models.Domain, priority, maxRetries int) *fakeStrategy {
	return &fakeStrategy{domain: domain, priority: priority, maxRetries: maxRetries}
}

func (s *fakeStrategy) Domain() models.Domain { return s.domain }
func (s *fakeStrategy) Priority() int         { return s.priority }
func (s *fakeStrategy) MaxRetries() int       { return s.maxRetries }

func (s *fakeStrategy) Validate(data interface{}) error {
	return s.validateErr
}

func (s *fakeStrategy) Prepare(data interface{}) (*models.SyncPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return models.NewSyncPayload(s.domain, raw, s.priority, s.maxRetries), nil
}

func (s *fakeStrategy) Upload(ctx context.Context, p *models.SyncPayload) (*UploadResult, error) {
	s.mu.Lock()
	s.uploads = append(s.uploads, p.ID)
	s.mu.Unlock()

	if s.uploadFunc != nil {
		return s.uploadFunc(ctx, p)
	}
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return &UploadResult{ServerID: "srv-" + p.ID}, nil
}

func (s *fakeStrategy) OnSuccess(ctx context.Context, res *UploadResult, p *models.SyncPayload) error {
	s.mu.Lock()
	s.successes = append(s.successes, p.ID)
	s.mu.Unlock()
	return s.onSuccessErr
}

func (s *fakeStrategy) OnFailure(err error, p *models.SyncPayload) {
	if s.panicOnFail {
		panic("hook exploded")
	}
	s.mu.Lock()
	s.failures = append(s.failures, p.ID)
	s.mu.Unlock()
}

func (s *fakeStrategy) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *fakeStrategy) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

type managerFixture struct {
	store   *store.MockStore
	queue   *queue.Queue
	watcher *netwatch.Manual
	manager *Manager
}

// newManagerFixture builds a manager over a mock store with backoff
// disabled, so scheduled drains see every item unless a test opts in
// to real windows.
func newManagerFixture(t *testing.T, opts ...Option) *managerFixture {
	t.Helper()

	st := store.NewMockStore()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	q := queue.New(st, logger)
	require.NoError(t, q.Initialize(context.Background()))

	watcher := netwatch.NewManual(true)
	all := append([]Option{WithBackoff(Backoff{})}, opts...)
	m := New(q, watcher, logger, all...)
	t.Cleanup(func() { _ = m.Close() })

	return &managerFixture{store: st, queue: q, watcher: watcher, manager: m}
}

func TestManagerSyncEnqueues(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"action": "create"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p, err := fx.queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.DomainMeal, p.Domain)
	assert.Equal(t, 2, p.Priority)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 0, p.RetryCount)

	// Enqueue never uploads.
	assert.Equal(t, 0, strat.uploadCount())

	t.Run("unknown domain", func(t *testing.T) {
		_, err := fx.manager.Sync(ctx, models.DomainPhoto, map[string]string{})
		assert.ErrorIs(t, err, models.ErrNoStrategy)
	})

	t.Run("validation failure persists nothing", func(t *testing.T) {
		before := fx.queue.Len()
		strat.validateErr = &models.ValidationError{
			Domain: models.DomainMeal,
			Field:  "name",
			Reason: "required",
		}
		defer func() { strat.validateErr = nil }()

		_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{})
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "name", vErr.Field)
		assert.Equal(t, before, fx.queue.Len())
	})
}

func TestManagerEnqueueSurvivesRestart(t *testing.T) {
	fx := newManagerFixture(t)
	fx.manager.RegisterStrategy(newFakeStrategy(models.DomainMeal, 2, 3))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]int{"seq": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// A second queue over the same store simulates an app restart.
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	reopened := queue.New(fx.store, logger)
	require.NoError(t, reopened.Initialize(ctx))

	items := reopened.All()
	require.Len(t, items, 3)
	for i, p := range items {
		assert.Equal(t, ids[i], p.ID)
		assert.JSONEq(t, string(fx.queue.All()[i].Data), string(p.Data))
	}
}

func TestManagerDrainOrder(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()

	var orderMu sync.Mutex
	var order []models.Domain
	record := func(ctx context.Context, p *models.SyncPayload) (*UploadResult, error) {
		orderMu.Lock()
		order = append(order, p.Domain)
		orderMu.Unlock()
		return &UploadResult{}, nil
	}

	auth := newFakeStrategy(models.DomainAuth, 1, 5)
	auth.uploadFunc = record
	meal := newFakeStrategy(models.DomainMeal, 2, 3)
	meal.uploadFunc = record
	photo := newFakeStrategy(models.DomainPhoto, 4, 6)
	photo.uploadFunc = record

	fx.manager.RegisterStrategy(auth)
	fx.manager.RegisterStrategy(meal)
	fx.manager.RegisterStrategy(photo)

	// Enqueue in reverse priority order; the drain must reorder.
	_, err := fx.manager.Sync(ctx, models.DomainPhoto, map[string]string{"file": "a.jpg"})
	require.NoError(t, err)
	firstMeal, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "first"})
	require.NoError(t, err)
	_, err = fx.manager.Sync(ctx, models.DomainAuth, map[string]string{"op": "profile"})
	require.NoError(t, err)
	secondMeal, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "second"})
	require.NoError(t, err)

	result, err := fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, []models.Domain{
		models.DomainAuth,
		models.DomainMeal,
		models.DomainMeal,
		models.DomainPhoto,
	}, order)

	// Same priority keeps insertion order.
	meal.mu.Lock()
	mealOrder := append([]string(nil), meal.uploads...)
	meal.mu.Unlock()
	assert.Equal(t, []string{firstMeal, secondMeal}, mealOrder)

	assert.Equal(t, 0, fx.queue.Len())
}

func TestManagerIsolatesFailures(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]int{"seq": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	bad := ids[1]
	strat.uploadFunc = func(ctx context.Context, p *models.SyncPayload) (*UploadResult, error) {
		if p.ID == bad {
			return nil, &models.APIError{StatusCode: 503, Code: models.ErrCodeServer, Message: "unavailable"}
		}
		return &UploadResult{}, nil
	}

	result, err := fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, bad, result.Errors[0].ID)
	assert.Equal(t, models.DomainMeal, result.Errors[0].Domain)

	// The failed item stays queued with one recorded failure.
	p, err := fx.queue.Get(bad)
	require.NoError(t, err)
	assert.Equal(t, 1, p.RetryCount)
	assert.False(t, p.Exhausted)
	assert.Equal(t, 1, fx.queue.Len())
	assert.Equal(t, 1, strat.failureCount())
}

func TestManagerRetryCapNeverExceeded(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMenu, 3, 2)
	strat.uploadErr = errors.New("backend down")
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	id, err := fx.manager.Sync(ctx, models.DomainMenu, map[string]string{"dish": "bibimbap"})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := fx.manager.SyncAll(ctx)
		require.NoError(t, err)

		p, err := fx.queue.Get(id)
		require.NoError(t, err)
		assert.LessOrEqual(t, p.RetryCount, 2, "retry count must never pass the cap")
	}

	p, err := fx.queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.RetryCount)
	assert.True(t, p.Exhausted)

	// Two real attempts; exhausted items are skipped afterwards.
	assert.Equal(t, 2, strat.uploadCount())
}

func TestManagerSingleFlight(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "lunch"})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	strat.uploadFunc = func(ctx context.Context, p *models.SyncPayload) (*UploadResult, error) {
		close(started)
		<-release
		return &UploadResult{}, nil
	}

	type drainOutcome struct {
		result *models.DrainResult
		err    error
	}
	first := make(chan drainOutcome, 1)
	go func() {
		res, err := fx.manager.SyncAll(ctx)
		first <- drainOutcome{res, err}
	}()

	<-started
	_, err = fx.manager.SyncAll(ctx)
	assert.ErrorIs(t, err, models.ErrSyncInProgress)
	_, err = fx.manager.SyncDomain(ctx, models.DomainMeal)
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	close(release)
	outcome := <-first
	require.NoError(t, outcome.err)
	assert.Equal(t, 1, outcome.result.Processed)

	// The slot is free again once the winner finishes.
	_, err = fx.manager.SyncAll(ctx)
	require.NoError(t, err)
}

func TestManagerPauseGate(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "dinner"})
	require.NoError(t, err)

	fx.manager.Pause()
	assert.True(t, fx.manager.Paused())

	_, err = fx.manager.SyncAll(ctx)
	assert.ErrorIs(t, err, models.ErrSyncPaused)
	assert.Equal(t, 0, strat.uploadCount())

	fx.manager.Resume()
	assert.False(t, fx.manager.Paused())

	result, err := fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	t.Run("pause mid-drain stops between items", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]int{"seq": i})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		strat.uploadFunc = func(ctx context.Context, p *models.SyncPayload) (*UploadResult, error) {
			if p.ID == ids[0] {
				fx.manager.Pause()
			}
			return &UploadResult{}, nil
		}
		defer func() { strat.uploadFunc = nil }()

		result, err := fx.manager.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, 2, fx.queue.Len())

		fx.manager.Resume()
		result, err = fx.manager.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Processed)
	})
}

func TestManagerDrainsWhenConnectivityReturns(t *testing.T) {
	st := store.NewMockStore()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	q := queue.New(st, logger)
	require.NoError(t, q.Initialize(context.Background()))

	watcher := netwatch.NewManual(false)
	m := New(q, watcher, logger, WithBackoff(Backoff{}))
	defer m.Close()

	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	m.RegisterStrategy(strat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	// Offline: enqueue accumulates, explicit drains refuse.
	for i := 0; i < 2; i++ {
		_, err := m.Sync(ctx, models.DomainMeal, map[string]int{"seq": i})
		require.NoError(t, err)
	}
	_, err := m.SyncAll(ctx)
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.Equal(t, 2, q.Len())
	assert.False(t, m.Status().IsOnline)

	// The online edge triggers a background drain.
	watcher.Set(true)
	require.Eventually(t, func() bool {
		return q.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, strat.uploadCount())
	assert.True(t, m.Status().IsOnline)
}

func TestManagerManualRetryPreservesCount(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainPhoto, 4, 1)
	strat.uploadErr = errors.New("upload rejected")
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	id, err := fx.manager.Sync(ctx, models.DomainPhoto, map[string]string{"file": "b.jpg"})
	require.NoError(t, err)

	_, err = fx.manager.SyncAll(ctx)
	require.NoError(t, err)

	p, err := fx.queue.Get(id)
	require.NoError(t, err)
	require.True(t, p.Exhausted)
	require.Equal(t, 1, p.RetryCount)

	// Returning the payload to rotation grants one attempt, not a
	// fresh budget.
	require.NoError(t, fx.manager.RetryExhausted(ctx, id))
	p, err = fx.queue.Get(id)
	require.NoError(t, err)
	assert.False(t, p.Exhausted)
	assert.Equal(t, 1, p.RetryCount)

	_, err = fx.manager.SyncAll(ctx)
	require.NoError(t, err)

	p, err = fx.queue.Get(id)
	require.NoError(t, err)
	assert.True(t, p.Exhausted)
	assert.Equal(t, 1, p.RetryCount, "count must not grow past the cap")
	assert.Equal(t, 2, strat.uploadCount())

	t.Run("remove exhausted", func(t *testing.T) {
		require.NoError(t, fx.manager.RemoveExhausted(ctx, id))
		_, err := fx.queue.Get(id)
		assert.ErrorIs(t, err, models.ErrPayloadNotFound)
	})

	t.Run("remove pending refused", func(t *testing.T) {
		pending, err := fx.manager.Sync(ctx, models.DomainPhoto, map[string]string{"file": "c.jpg"})
		require.NoError(t, err)
		err = fx.manager.RemoveExhausted(ctx, pending)
		assert.ErrorIs(t, err, models.ErrNotExhausted)
	})
}

func TestManagerScheduledDrainHonorsBackoff(t *testing.T) {
	fx := newManagerFixture(t, WithBackoff(Backoff{Base: time.Hour, Max: time.Hour}))
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	strat.uploadErr = errors.New("flaky")
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "soup"})
	require.NoError(t, err)

	// First failure stamps a backoff window an hour out.
	_, err = fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, strat.uploadCount())

	p, err := fx.queue.Get(id)
	require.NoError(t, err)
	assert.False(t, p.NextAttemptAt.IsZero())

	// Scheduled-style drains skip the item inside its window.
	result, err := fx.manager.SyncBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed+result.Failed)
	assert.Equal(t, 1, strat.uploadCount())

	// A user-requested domain drain ignores the window.
	_, err = fx.manager.SyncDomain(ctx, models.DomainMeal)
	require.NoError(t, err)
	assert.Equal(t, 2, strat.uploadCount())
}

func TestManagerSyncBatchLimit(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]int{"seq": i})
		require.NoError(t, err)
	}

	result, err := fx.manager.SyncBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 3, fx.queue.Len())

	result, err = fx.manager.SyncBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, fx.queue.Len())
}

func TestManagerSyncAllPicksUpMidDrainWork(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	first, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "breakfast"})
	require.NoError(t, err)

	strat.uploadFunc = func(uploadCtx context.Context, p *models.SyncPayload) (*UploadResult, error) {
		if p.ID == first {
			if _, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "elevenses"}); err != nil {
				return nil, err
			}
		}
		return &UploadResult{}, nil
	}

	result, err := fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, fx.queue.Len())
}

func TestManagerEventStream(t *testing.T) {
	fx := newManagerFixture(t)
	good := newFakeStrategy(models.DomainMeal, 2, 3)
	doomed := newFakeStrategy(models.DomainPhoto, 4, 0)
	doomed.uploadErr = errors.New("no retries for you")
	fx.manager.RegisterStrategy(good)
	fx.manager.RegisterStrategy(doomed)
	ctx := context.Background()

	_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "ok"})
	require.NoError(t, err)
	_, err = fx.manager.Sync(ctx, models.DomainPhoto, map[string]string{"file": "x.jpg"})
	require.NoError(t, err)

	result, err := fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 1, result.Failed)

	seen := map[EventType]int{}
	var finished *Event
collect:
	for {
		select {
		case ev := <-fx.manager.Events():
			seen[ev.Type]++
			if ev.Type == EventDrainFinished {
				finished = &ev
				break collect
			}
		case <-time.After(time.Second):
			t.Fatal("drain_finished event never arrived")
		}
	}

	assert.Equal(t, 2, seen[EventEnqueued])
	assert.Equal(t, 1, seen[EventDrainStarted])
	assert.Equal(t, 1, seen[EventItemSynced])
	assert.Equal(t, 1, seen[EventItemFailed])
	assert.Equal(t, 1, seen[EventItemExhausted])
	require.NotNil(t, finished.Result)
	assert.Equal(t, 1, finished.Result.Processed)
	assert.Equal(t, 1, finished.Result.Failed)
}

func TestManagerStatusAndDiagnostics(t *testing.T) {
	fx := newManagerFixture(t, WithAppVersion("1.4.2"))
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	status := fx.manager.Status()
	assert.True(t, status.IsOnline)
	assert.False(t, status.Draining)
	assert.True(t, status.LastSyncAt.IsZero())
	assert.Equal(t, 0, status.Queue.Total)

	_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "stew"})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.manager.PendingCount(models.DomainMeal))
	assert.Equal(t, 0, fx.manager.PendingCount(models.DomainAuth))

	_, err = fx.manager.SyncAll(ctx)
	require.NoError(t, err)

	status = fx.manager.Status()
	assert.False(t, status.LastSyncAt.IsZero())
	assert.Equal(t, 0, status.Queue.Total)

	_, err = fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "rice"})
	require.NoError(t, err)

	report := fx.manager.Diagnostics()
	assert.Equal(t, "1.4.2", report.AppVersion)
	assert.WithinDuration(t, time.Now().UTC(), report.GeneratedAt, 5*time.Second)
	assert.Len(t, report.Items, 1)
	assert.Equal(t, 1, report.Status.Queue.Total)
}

func TestManagerCloseCancelsDrain(t *testing.T) {
	fx := newManagerFixture(t)
	strat := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(strat)
	ctx := context.Background()

	id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "slow"})
	require.NoError(t, err)

	started := make(chan struct{})
	strat.uploadFunc = func(uploadCtx context.Context, p *models.SyncPayload) (*UploadResult, error) {
		close(started)
		<-uploadCtx.Done()
		return nil, uploadCtx.Err()
	}

	done := make(chan struct{})
	go func() {
		_, _ = fx.manager.SyncAll(ctx)
		close(done)
	}()

	<-started
	require.NoError(t, fx.manager.Close())
	require.NoError(t, fx.manager.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop after Close")
	}

	// Cancellation is not a failure: the payload keeps its budget.
	p, err := fx.queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0, p.RetryCount)
	assert.False(t, p.Exhausted)

	// The event stream ends after Close.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-fx.manager.Events():
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestManagerQueuedItemWithoutStrategy(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()

	// Simulates a registry change between runs: the payload is queued
	// but no handler owns its domain anymore.
	_, err := fx.queue.Add(ctx, models.DomainMenu, json.RawMessage(`{"dish":"x"}`), 3, 3)
	require.NoError(t, err)

	result, err := fx.manager.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Err, "no strategy")
}

func TestManagerHookMisbehavior(t *testing.T) {
	t.Run("reconciliation error still removes payload", func(t *testing.T) {
		fx := newManagerFixture(t)
		strat := newFakeStrategy(models.DomainMeal, 2, 3)
		strat.onSuccessErr = errors.New("local write failed")
		fx.manager.RegisterStrategy(strat)
		ctx := context.Background()

		_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "toast"})
		require.NoError(t, err)

		result, err := fx.manager.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, 0, fx.queue.Len())
	})

	t.Run("panicking failure hook does not kill the drain", func(t *testing.T) {
		fx := newManagerFixture(t)
		strat := newFakeStrategy(models.DomainMeal, 2, 3)
		strat.uploadErr = errors.New("boom")
		strat.panicOnFail = true
		fx.manager.RegisterStrategy(strat)
		ctx := context.Background()

		id, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "bagel"})
		require.NoError(t, err)

		result, err := fx.manager.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)

		p, err := fx.queue.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 1, p.RetryCount)
	})
}

func TestManagerReRegisterReplacesStrategy(t *testing.T) {
	fx := newManagerFixture(t)
	ctx := context.Background()

	first := newFakeStrategy(models.DomainMeal, 2, 3)
	second := newFakeStrategy(models.DomainMeal, 2, 3)
	fx.manager.RegisterStrategy(first)
	fx.manager.RegisterStrategy(second)

	_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]string{"meal": "pho"})
	require.NoError(t, err)
	_, err = fx.manager.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, first.uploadCount())
	assert.Equal(t, 1, second.uploadCount())
}

func TestManagerClearAll(t *testing.T) {
	fx := newManagerFixture(t)
	fx.manager.RegisterStrategy(newFakeStrategy(models.DomainMeal, 2, 3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fx.manager.Sync(ctx, models.DomainMeal, map[string]int{"seq": i})
		require.NoError(t, err)
	}
	require.Equal(t, 3, fx.queue.Len())

	require.NoError(t, fx.manager.ClearAll(ctx))
	assert.Equal(t, 0, fx.queue.Len())
}
