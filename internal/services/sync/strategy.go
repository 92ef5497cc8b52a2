package sync

import (
	"context"

	"github.com/platewise/mealsync/internal/models"
)

// Strategy owns one domain's sync behavior: what a payload looks
// like, how it reaches the backend, and how local state reconciles
// afterwards. The manager stays domain-agnostic; everything
// domain-specific lives behind this interface.
type Strategy interface {
	// Domain identifies the payloads this strategy owns.
	Domain() models.Domain

	// Priority is the default drain priority for this domain.
	// Lower is more urgent.
	Priority() int

	// MaxRetries is the default retry ceiling for this domain.
	MaxRetries() int

	// Validate checks domain data before it is enqueued. Invalid data
	// is rejected synchronously and never persisted; implementations
	// return *models.ValidationError so callers see the reason.
	Validate(data interface{}) error

	// Prepare transforms domain data into a payload. Pure: no network
	// or disk I/O. May override priority/maxRetries per action kind.
	Prepare(data interface{}) (*models.SyncPayload, error)

	// Upload pushes one payload to the backend. The only method
	// allowed network I/O. Must be idempotent or duplicate-tolerant;
	// honors ctx.
	Upload(ctx context.Context, p *models.SyncPayload) (*UploadResult, error)

	// OnSuccess reconciles local state with the server result. Called
	// exactly once per successful upload; an error here is logged but
	// never retried, because the upload already happened.
	OnSuccess(ctx context.Context, res *UploadResult, p *models.SyncPayload) error

	// OnFailure performs best-effort failure bookkeeping. Must not
	// panic; the manager's queue bookkeeping is authoritative.
	OnFailure(err error, p *models.SyncPayload)
}

// UploadResult carries what a successful upload produced.
type UploadResult struct {
	// ServerID is the remote identifier, when the call created or
	// addressed one.
	ServerID string

	// Conflict marks an alternate success: the server reported the
	// work as already done (register hitting an existing account,
	// deleting a resource that is already gone).
	Conflict bool

	// Detail carries strategy-specific results from Upload to
	// OnSuccess. Only the owning strategy looks inside.
	Detail interface{}
}
