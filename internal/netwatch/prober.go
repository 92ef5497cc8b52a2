package netwatch

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platewise/mealsync/internal/events"
)

// Prober determines connectivity by periodically probing the API
// health endpoint. Reachability of the actual backend is the signal
// that matters; an interface that is up but firewalled still counts
// as offline for sync purposes.
type Prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	logger   *events.Logger

	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int
	closed  bool

	done chan struct{}
}

// NewProber creates a connectivity prober and starts its probe loop.
// The first probe runs immediately, so callers get a real state soon
// after construction instead of a stale default.
func NewProber(baseURL string, interval, timeout time.Duration, logger *events.Logger) *Prober {
	p := &Prober{
		url:      strings.TrimRight(baseURL, "/") + "/v1/health",
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		logger:   logger.WithField("component", "netwatch"),
		subs:     make(map[int]func(bool)),
		done:     make(chan struct{}),
	}

	go p.loop()

	return p
}

// Online returns the last probed state.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe registers an edge-triggered callback.
func (p *Prober) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// CheckNow probes immediately and returns the resulting state. Used
// when the app foregrounds or the user pulls to refresh.
func (p *Prober) CheckNow() bool {
	p.probe()
	return p.Online()
}

// Close stops the probe loop.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	return nil
}

func (p *Prober) loop() {
	p.probe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probe()
		case <-p.done:
			return
		}
	}
}

func (p *Prober) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.setOnline(false)
		return
	}

	resp, err := p.client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}

	online := err == nil && resp.StatusCode < 500
	p.setOnline(online)
}

// setOnline updates state and fires callbacks on edges only.
func (p *Prober) setOnline(online bool) {
	p.mu.Lock()
	changed := online != p.online
	p.online = online

	var fns []func(bool)
	if changed {
		for _, fn := range p.subs {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.WithField("online", online).Info("Connectivity changed")
	for _, fn := range fns {
		fn(online)
	}
}
