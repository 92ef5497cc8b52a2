// Package photo owns asynchronous AI-analysis photo uploads. Submitting
// a job records it locally and queues the upload; the file content is
// read and encoded at drain time, never stored in the queue.
package photo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
	"github.com/platewise/mealsync/internal/store"
)

// jobsKey is the store key for the local job tracker.
const jobsKey = "photo_jobs"

// ErrJobNotFound marks lookups for jobs that are not tracked locally.
var ErrJobNotFound = errors.New("photo job not found")

// Service handles photo analysis job submission and tracking.
type Service struct {
	api    remote.API
	store  store.Store
	mgr    *syncsvc.Manager
	logger *events.Logger

	mu sync.Mutex
}

// NewService creates a photo service.
func NewService(api remote.API, st store.Store, mgr *syncsvc.Manager, logger *events.Logger) *Service {
	return &Service{
		api:    api,
		store:  st,
		mgr:    mgr,
		logger: logger.WithField("service", "photo"),
	}
}

// Strategy returns the sync handler for the photo domain.
func (s *Service) Strategy() *Strategy {
	return &Strategy{svc: s}
}

// SubmitJob tracks a photo for upload and queues it. The file must
// exist now; if it disappears before the drain reaches it, the job is
// dropped rather than retried forever.
func (s *Service) SubmitJob(ctx context.Context, scanID, filePath string) (*models.PhotoJob, error) {
	if scanID == "" {
		return nil, &models.ValidationError{Domain: models.DomainPhoto, Field: "scan_id", Reason: "required"}
	}
	if filePath == "" {
		return nil, &models.ValidationError{Domain: models.DomainPhoto, Field: "file_path", Reason: "required"}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat photo: %w", err)
	}

	job := &models.PhotoJob{
		ID:        "photo_" + uuid.NewString(),
		ScanID:    scanID,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	jobs, err := s.loadJobs(ctx)
	if err == nil {
		jobs[job.ID] = job
		err = s.saveJobs(ctx, jobs)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	req := &Request{Action: ActionSubmitJob, JobID: job.ID}
	if _, err := s.mgr.Sync(ctx, models.DomainPhoto, req); err != nil {
		return job, err
	}

	s.logger.WithFields(map[string]interface{}{
		"job_id":  job.ID,
		"scan_id": scanID,
		"bytes":   job.SizeBytes,
	}).Debug("Photo job queued")
	return job, nil
}

// Job returns one tracked job by local ID.
func (s *Service) Job(ctx context.Context, id string) (*models.PhotoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJob(ctx, id)
}

// Jobs returns all tracked jobs, newest first.
func (s *Service) Jobs(ctx context.Context) ([]*models.PhotoJob, error) {
	s.mu.Lock()
	jobs, err := s.loadJobs(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*models.PhotoJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// getJob looks up one job. Callers hold s.mu.
func (s *Service) getJob(ctx context.Context, id string) (*models.PhotoJob, error) {
	jobs, err := s.loadJobs(ctx)
	if err != nil {
		return nil, err
	}
	job, ok := jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// lookupJob is the lock-taking variant for the strategy.
func (s *Service) lookupJob(ctx context.Context, id string) (*models.PhotoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJob(ctx, id)
}

// mutateJob runs a read-modify-write on one job under the service lock.
func (s *Service) mutateJob(ctx context.Context, id string, fn func(*models.PhotoJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadJobs(ctx)
	if err != nil {
		return err
	}
	job, ok := jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	fn(job)
	return s.saveJobs(ctx, jobs)
}

// removeJob drops one job from the tracker. Removing an absent job is
// a no-op.
func (s *Service) removeJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadJobs(ctx)
	if err != nil {
		return err
	}
	if _, ok := jobs[id]; !ok {
		return nil
	}
	delete(jobs, id)
	return s.saveJobs(ctx, jobs)
}

func (s *Service) loadJobs(ctx context.Context) (map[string]*models.PhotoJob, error) {
	data, err := s.store.Load(ctx, jobsKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return make(map[string]*models.PhotoJob), nil
	}
	if err != nil {
		return nil, err
	}

	var jobs map[string]*models.PhotoJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse job cache: %w", err)
	}
	if jobs == nil {
		jobs = make(map[string]*models.PhotoJob)
	}
	return jobs, nil
}

func (s *Service) saveJobs(ctx context.Context, jobs map[string]*models.PhotoJob) error {
	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("marshal job cache: %w", err)
	}
	if err := s.store.Save(ctx, jobsKey, data); err != nil {
		return fmt.Errorf("save job cache: %w", err)
	}
	return nil
}
