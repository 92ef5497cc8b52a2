package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/platewise/mealsync/internal/models"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
)

// StubStrategy is a scriptable sync strategy for manager, queue, and
// benchmark code that does not need real domain logic. The default
// upload succeeds with an empty result.
type StubStrategy struct {
	domain     models.Domain
	priority   int
	maxRetries int

	mu        sync.Mutex
	uploadFn  func(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error)
	uploads   int
	successes int
	failures  int
}

var _ syncsvc.Strategy = (*StubStrategy)(nil)

// NewStubStrategy creates a stub for the given domain.
func NewStubStrategy(domain models.Domain, priority, maxRetries int) *StubStrategy {
	return &StubStrategy{
		domain:     domain,
		priority:   priority,
		maxRetries: maxRetries,
	}
}

// OnUpload scripts the upload behavior.
func (s *StubStrategy) OnUpload(fn func(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadFn = fn
}

func (s *StubStrategy) Domain() models.Domain { return s.domain }
func (s *StubStrategy) Priority() int         { return s.priority }
func (s *StubStrategy) MaxRetries() int       { return s.maxRetries }

func (s *StubStrategy) Validate(interface{}) error { return nil }

func (s *StubStrategy) Prepare(data interface{}) (*models.SyncPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return models.NewSyncPayload(s.domain, raw, s.priority, s.maxRetries), nil
}

func (s *StubStrategy) Upload(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error) {
	s.mu.Lock()
	s.uploads++
	fn := s.uploadFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, p)
	}
	return &syncsvc.UploadResult{}, nil
}

func (s *StubStrategy) OnSuccess(context.Context, *syncsvc.UploadResult, *models.SyncPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes++
	return nil
}

func (s *StubStrategy) OnFailure(error, *models.SyncPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

// Uploads returns how many uploads were attempted.
func (s *StubStrategy) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Successes returns how many uploads reconciled successfully.
func (s *StubStrategy) Successes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successes
}

// Failures returns how many uploads failed.
func (s *StubStrategy) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}
