package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain identifies which sync strategy owns a payload.
type Domain string

// Domains shipped with the client. The strategy registry accepts new
// domains without core changes; these constants cover the built-in services.
const (
	DomainAuth  Domain = "auth"
	DomainMeal  Domain = "meal"
	DomainMenu  Domain = "menu"
	DomainPhoto Domain = "photo"
)

func (d Domain) String() string {
	return string(d)
}

// SyncPayload is one queued unit of pending work: a domain action plus
// its data, with the retry bookkeeping the manager needs.
type SyncPayload struct {
	ID            string          `json:"id"`
	Domain        Domain          `json:"domain"`
	Data          json.RawMessage `json:"data"`
	Priority      int             `json:"priority"`    // Lower = more urgent
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Exhausted     bool            `json:"exhausted,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewSyncPayload builds a payload with a fresh ID and zero retries.
func NewSyncPayload(domain Domain, data json.RawMessage, priority, maxRetries int) *SyncPayload {
	now := time.Now().UTC()
	return &SyncPayload{
		ID:         NewPayloadID(domain, now),
		Domain:     domain,
		Data:       data,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  now,
	}
}

// NewPayloadID builds a payload identifier of the form
// {domain}_{unixMilli}_{random}. The random fragment keeps IDs unique
// when several payloads are created within one millisecond.
func NewPayloadID(domain Domain, ts time.Time) string {
	random := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s_%d_%s", domain, ts.UnixMilli(), random)
}

// Eligible reports whether an automatic drain may attempt the payload now.
// Exhausted payloads wait for manual retry; backed-off payloads wait for
// their next attempt window.
func (p *SyncPayload) Eligible(now time.Time) bool {
	if p.Exhausted {
		return false
	}
	return !now.Before(p.NextAttemptAt)
}

// Validate checks the payload structure before it enters the queue.
func (p *SyncPayload) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("payload ID is required")
	}

	if strings.TrimSpace(string(p.Domain)) == "" {
		return fmt.Errorf("payload domain is required")
	}

	if p.Priority < 1 {
		return fmt.Errorf("priority must be >= 1, got %d", p.Priority)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if p.RetryCount < 0 || p.RetryCount > p.MaxRetries {
		return fmt.Errorf("retry count %d outside [0, %d]", p.RetryCount, p.MaxRetries)
	}

	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created timestamp is required")
	}

	return nil
}

// Clone creates a deep copy of the payload.
func (p *SyncPayload) Clone() *SyncPayload {
	clone := *p
	if p.Data != nil {
		clone.Data = make(json.RawMessage, len(p.Data))
		copy(clone.Data, p.Data)
	}
	return &clone
}
