package models

import "time"

// QueueStats aggregates queue composition at a point in time.
type QueueStats struct {
	Total           int            `json:"total"`
	Exhausted       int            `json:"exhausted"`
	ByDomain        map[Domain]int `json:"by_domain"`
	ByPriority      map[int]int    `json:"by_priority"`
	OldestCreatedAt time.Time      `json:"oldest_created_at,omitempty"`
}

// GlobalSyncStatus is the unified read model the UI consumes. It is
// derived on demand from connectivity plus queue stats and is never
// persisted on its own.
type GlobalSyncStatus struct {
	IsOnline     bool       `json:"is_online"`
	Paused       bool       `json:"paused"`
	Draining     bool       `json:"draining"`
	Queue        QueueStats `json:"queue"`
	LastSyncAt   time.Time  `json:"last_sync_at,omitempty"`
	ActiveDomain Domain     `json:"active_domain,omitempty"`
}

// ItemError records one payload's failure within a drain.
type ItemError struct {
	ID     string `json:"id"`
	Domain Domain `json:"domain"`
	Err    string `json:"error"`
}

// DrainResult summarizes one drain call. A drain never aborts because a
// single item failed; partial success is reported here instead.
type DrainResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Errors    []ItemError   `json:"errors,omitempty"`
}

// Merge folds another result into this one, letting callers aggregate
// drains across domains.
func (r *DrainResult) Merge(other *DrainResult) {
	if other == nil {
		return
	}
	r.Processed += other.Processed
	r.Failed += other.Failed
	r.Duration += other.Duration
	r.Errors = append(r.Errors, other.Errors...)
}

// DiagnosticsReport is a serializable dump of queue contents and status
// for support and debugging. It never drives behavior.
type DiagnosticsReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	AppVersion  string           `json:"app_version,omitempty"`
	Status      GlobalSyncStatus `json:"status"`
	Items       []*SyncPayload   `json:"items"`
}
