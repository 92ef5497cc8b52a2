package photo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
)

// Action names one queued photo operation.
type Action string

// ActionSubmitJob uploads one photo for analysis.
const ActionSubmitJob Action = "submitJob"

// Request is the photo domain's queue envelope. It carries only the
// job ID; the file content is read fresh at upload time.
type Request struct {
	Action Action `json:"action"`
	JobID  string `json:"job_id"`
}

// Strategy syncs queued photo uploads. Photos are the least urgent and
// the most failure-prone domain (large bodies on mobile links), so it
// drains last and gets the largest retry budget.
type Strategy struct {
	svc *Service
}

// Domain returns the domain this strategy owns.
func (st *Strategy) Domain() models.Domain { return models.DomainPhoto }

// Priority returns the drain priority for photo payloads.
func (st *Strategy) Priority() int { return 4 }

// MaxRetries returns the retry ceiling for photo payloads.
func (st *Strategy) MaxRetries() int { return 6 }

// Validate checks the request envelope before it is enqueued.
func (st *Strategy) Validate(data interface{}) error {
	req, ok := data.(*Request)
	if !ok {
		return &models.ValidationError{Domain: models.DomainPhoto, Field: "data", Reason: fmt.Sprintf("unexpected payload type %T", data)}
	}
	if req.Action != ActionSubmitJob {
		return &models.ValidationError{Domain: models.DomainPhoto, Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if req.JobID == "" {
		return &models.ValidationError{Domain: models.DomainPhoto, Field: "job_id", Reason: "required"}
	}
	return nil
}

// Prepare serializes the request into a payload.
func (st *Strategy) Prepare(data interface{}) (*models.SyncPayload, error) {
	req, ok := data.(*Request)
	if !ok {
		return nil, fmt.Errorf("unexpected photo payload type %T", data)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal photo request: %w", err)
	}
	return models.NewSyncPayload(models.DomainPhoto, raw, st.Priority(), st.MaxRetries()), nil
}

// Upload reads the photo and pushes it as a base64 body. A job or file
// that disappeared since queueing resolves as a conflict; OnSuccess
// then drops the tracker entry.
func (st *Strategy) Upload(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error) {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return nil, fmt.Errorf("decode photo payload: %w", err)
	}

	job, err := st.svc.lookupJob(ctx, req.JobID)
	if errors.Is(err, ErrJobNotFound) {
		return &syncsvc.UploadResult{Conflict: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if job.ServerJobID != "" {
		return &syncsvc.UploadResult{ServerID: job.ServerJobID, Conflict: true}, nil
	}

	content, err := os.ReadFile(job.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		st.svc.logger.WithFields(map[string]interface{}{
			"job_id": job.ID,
			"path":   job.FilePath,
		}).Warn("Photo file gone, dropping job")
		return &syncsvc.UploadResult{Conflict: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}

	resp, err := st.svc.api.SubmitPhotoJob(ctx, &remote.PhotoJobRequest{
		ScanID:   job.ScanID,
		FileName: filepath.Base(job.FilePath),
		Content:  base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return nil, err
	}
	return &syncsvc.UploadResult{ServerID: resp.JobID}, nil
}

// OnSuccess records the server job ID, or drops the tracker entry when
// the upload resolved to nothing (job or file vanished).
func (st *Strategy) OnSuccess(ctx context.Context, res *syncsvc.UploadResult, p *models.SyncPayload) error {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return fmt.Errorf("decode photo payload: %w", err)
	}

	if res.ServerID == "" {
		return st.svc.removeJob(ctx, req.JobID)
	}

	err := st.svc.mutateJob(ctx, req.JobID, func(job *models.PhotoJob) {
		job.ServerJobID = res.ServerID
		job.Synced = true
	})
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	return err
}

// OnFailure records the attempt; queue bookkeeping handles the retry.
func (st *Strategy) OnFailure(err error, p *models.SyncPayload) {
	st.svc.logger.WithError(err).WithField("payload_id", p.ID).Debug("Photo sync attempt failed")
}
