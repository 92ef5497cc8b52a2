package netwatch

import "sync"

// Manual is a Watcher driven entirely by Set calls. It backs tests
// and the dev.force_offline mode, where the client must behave as if
// the network were down regardless of actual reachability.
type Manual struct {
	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int
}

// NewManual creates a manual watcher with an initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// Online returns the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state, firing callbacks only on edges.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online

	var fns []func(bool)
	if changed {
		for _, fn := range m.subs {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers an edge-triggered callback.
func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Close is a no-op for the manual watcher.
func (m *Manual) Close() error {
	return nil
}
