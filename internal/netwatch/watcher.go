package netwatch

// Watcher reports device connectivity and notifies on changes. The
// sync manager reads it before drains and subscribes for the
// offline-to-online edge.
type Watcher interface {
	// Online returns the last known connectivity state.
	Online() bool

	// Subscribe registers an edge-triggered callback invoked on every
	// state change. The returned cancel removes the subscription.
	Subscribe(fn func(online bool)) (cancel func())

	// Close stops the watcher and releases its resources.
	Close() error
}
