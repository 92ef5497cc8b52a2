// Package client wires the stores, remote API, connectivity watcher,
// and domain services into a single object the CLI or an embedding
// app can drive.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/creds"
	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/netwatch"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/remote"
	"github.com/platewise/mealsync/internal/services/auth"
	"github.com/platewise/mealsync/internal/services/meal"
	"github.com/platewise/mealsync/internal/services/menu"
	"github.com/platewise/mealsync/internal/services/photo"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
	"github.com/platewise/mealsync/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Client provides the high-level API for mealsync operations.
type Client struct {
	Auth  *auth.Service
	Meal  *meal.Service
	Menu  *menu.Service
	Photo *photo.Service
	Sync  *syncsvc.Manager

	config   *config.Config
	logger   *events.Logger
	api      remote.API
	store    store.Store
	queue    *queue.Queue
	watcher  netwatch.Watcher
	notifier *remote.Notifier
}

type options struct {
	watcher netwatch.Watcher
}

// Option overrides part of the default wiring.
type Option func(*options)

// WithWatcher substitutes the connectivity watcher. Tests inject a
// manual watcher so they can flip between offline and online without
// a reachable backend.
func WithWatcher(w netwatch.Watcher) Option {
	return func(o *options) { o.watcher = w }
}

// New assembles a client from the given configuration. The returned
// client is not yet usable: call Initialize to load persisted state,
// then optionally Start for background syncing.
func New(cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	st, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	api := remote.NewClient(&cfg.API, logger)

	watcher := o.watcher
	if watcher == nil {
		if cfg.Dev.ForceOffline {
			watcher = netwatch.NewManual(false)
		} else {
			watcher = netwatch.NewProber(cfg.API.BaseURL, cfg.Sync.ProbeInterval, cfg.Sync.ProbeTimeout, logger)
		}
	}

	q := queue.New(st, logger)

	mgrOpts := []syncsvc.Option{
		syncsvc.WithBackoff(syncsvc.Backoff{Base: cfg.Sync.RetryBase, Max: cfg.Sync.RetryMax}),
		syncsvc.WithBatchLimit(cfg.Sync.BatchLimit),
		syncsvc.WithAppVersion(Version),
	}
	if cfg.Sync.AutoSync {
		mgrOpts = append(mgrOpts, syncsvc.WithDrainInterval(cfg.Sync.Interval))
	}
	manager := syncsvc.New(q, watcher, logger, mgrOpts...)

	tokens := creds.NewTokenCache(cfg.Auth.TokenFile, cfg.Auth.DeviceSecretFile, logger)

	authSvc := auth.NewService(api, tokens, st, manager, logger)
	mealSvc := meal.NewService(api, st, manager, logger)
	menuSvc := menu.NewService(api, st, manager, logger)
	photoSvc := photo.NewService(api, st, manager, logger)

	manager.RegisterStrategy(authSvc.Strategy())
	manager.RegisterStrategy(mealSvc.Strategy())
	manager.RegisterStrategy(menuSvc.Strategy())
	manager.RegisterStrategy(photoSvc.Strategy())

	return &Client{
		Auth:  authSvc,
		Meal:  mealSvc,
		Menu:  menuSvc,
		Photo: photoSvc,
		Sync:  manager,

		config:  cfg,
		logger:  logger,
		api:     api,
		store:   st,
		queue:   q,
		watcher: watcher,
	}, nil
}

// Initialize loads the durable queue into memory and restores a
// cached session if one exists. Call once before issuing operations.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.queue.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize queue: %w", err)
	}

	if _, err := c.Auth.Session(); err != nil && !errors.Is(err, models.ErrNotAuthenticated) {
		c.logger.WithError(err).Warn("Failed to restore cached session")
	}

	return nil
}

// Start launches background draining and, when a session exists,
// subscribes to server push notifications. Both are optional: an app
// that only wants explicit syncs can skip Start entirely.
func (c *Client) Start(ctx context.Context) {
	if c.config.Sync.AutoSync {
		c.Sync.Start(ctx)
	}
	c.startNotifier(ctx)
}

func (c *Client) startNotifier(ctx context.Context) {
	token := c.api.Token()
	if token == "" {
		return
	}

	n := remote.NewNotifier(c.config.API.BaseURL, token, c.logger)
	if err := n.Connect(ctx); err != nil {
		// Push is an optimization. Interval drains still run.
		c.logger.WithError(err).Warn("Notifier connect failed, falling back to polling")
		return
	}
	c.notifier = n

	go func() {
		for note := range n.Notifications() {
			if note.Type == remote.NotificationSyncRequired {
				c.Sync.Nudge()
			}
		}
	}()
}

// Close stops background work and releases all resources.
func (c *Client) Close() error {
	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			c.logger.WithError(err).Debug("Notifier close failed")
		}
	}

	var firstErr error
	if err := c.Sync.Close(); err != nil {
		firstErr = err
	}
	if err := c.watcher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func newStore(cfg *config.Config, logger *events.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore(cfg.Storage.DatabaseFile, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		st, err := store.NewJSONStore(cfg.Storage.StoreDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return st, nil
	}
}
