package meal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
)

// Action names one queued meal operation.
type Action string

const (
	ActionSubmitAnalysis Action = "submitAnalysis"
	ActionUpdateScan     Action = "updateScan"
	ActionDeleteScan     Action = "deleteScan"
)

// deleteMaxRetries is the shorter budget for deletes; a delete that
// keeps failing usually means the resource is already gone.
const deleteMaxRetries = 2

// Request is the meal domain's queue envelope. Payloads carry IDs, not
// snapshots: the drain reads the scan's latest local state, so stacked
// edits collapse into whatever is current at upload time.
type Request struct {
	Action   Action `json:"action"`
	ScanID   string `json:"scan_id"`
	ServerID string `json:"server_id,omitempty"`
}

// Strategy syncs queued scan mutations. Uploads are duplicate-tolerant:
// creates carry the local ID as a client reference, and deletes treat a
// missing resource as done.
type Strategy struct {
	svc *Service
}

// Domain returns the domain this strategy owns.
func (st *Strategy) Domain() models.Domain { return models.DomainMeal }

// Priority returns the drain priority for meal payloads.
func (st *Strategy) Priority() int { return 2 }

// MaxRetries returns the default retry ceiling for meal payloads.
func (st *Strategy) MaxRetries() int { return 3 }

// Validate checks the request envelope before it is enqueued.
func (st *Strategy) Validate(data interface{}) error {
	req, ok := data.(*Request)
	if !ok {
		return &models.ValidationError{Domain: models.DomainMeal, Field: "data", Reason: fmt.Sprintf("unexpected payload type %T", data)}
	}

	switch req.Action {
	case ActionSubmitAnalysis, ActionUpdateScan, ActionDeleteScan:
		if req.ScanID == "" {
			return &models.ValidationError{Domain: models.DomainMeal, Field: "scan_id", Reason: "required"}
		}
	default:
		return &models.ValidationError{Domain: models.DomainMeal, Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	return nil
}

// Prepare serializes the request into a payload. Deletes get the
// shorter retry budget.
func (st *Strategy) Prepare(data interface{}) (*models.SyncPayload, error) {
	req, ok := data.(*Request)
	if !ok {
		return nil, fmt.Errorf("unexpected meal payload type %T", data)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal meal request: %w", err)
	}

	maxRetries := st.MaxRetries()
	if req.Action == ActionDeleteScan {
		maxRetries = deleteMaxRetries
	}
	return models.NewSyncPayload(models.DomainMeal, raw, st.Priority(), maxRetries), nil
}

// Upload pushes one queued scan mutation to the backend.
func (st *Strategy) Upload(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error) {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return nil, fmt.Errorf("decode meal payload: %w", err)
	}

	switch req.Action {
	case ActionSubmitAnalysis, ActionUpdateScan:
		return st.push(ctx, &req)
	case ActionDeleteScan:
		return st.remove(ctx, &req)
	default:
		return nil, fmt.Errorf("unknown meal action %q", req.Action)
	}
}

// push uploads the scan's current local state. A scan that vanished
// locally was deleted after queueing; its delete action handles the
// server side, so this upload has nothing to do.
func (st *Strategy) push(ctx context.Context, req *Request) (*syncsvc.UploadResult, error) {
	scan, err := st.svc.lookupScan(ctx, req.ScanID)
	if errors.Is(err, ErrScanNotFound) {
		return &syncsvc.UploadResult{Conflict: true}, nil
	}
	if err != nil {
		return nil, err
	}

	upload := &remote.ScanUpload{
		ClientID:  scan.ID,
		Name:      scan.Name,
		Nutrition: scan.Nutrition,
		PhotoPath: scan.PhotoPath,
		ScannedAt: scan.ScannedAt,
	}

	if scan.ServerID == "" {
		resp, err := st.svc.api.CreateScan(ctx, upload)
		if err != nil {
			return nil, err
		}
		return &syncsvc.UploadResult{ServerID: resp.ServerID}, nil
	}

	if err := st.svc.api.UpdateScan(ctx, scan.ServerID, upload); err != nil {
		return nil, err
	}
	return &syncsvc.UploadResult{ServerID: scan.ServerID}, nil
}

// remove deletes the scan server-side. Scans that never synced have no
// server document, and a 404 means someone else already deleted it;
// both count as done.
func (st *Strategy) remove(ctx context.Context, req *Request) (*syncsvc.UploadResult, error) {
	if req.ServerID == "" {
		return &syncsvc.UploadResult{Conflict: true}, nil
	}

	if err := st.svc.api.DeleteScan(ctx, req.ServerID); err != nil {
		if resourceGone(err) {
			return &syncsvc.UploadResult{Conflict: true}, nil
		}
		return nil, err
	}
	return &syncsvc.UploadResult{}, nil
}

// OnSuccess stamps the server ID onto the local scan and marks it
// synced. A scan deleted mid-flight is left alone.
func (st *Strategy) OnSuccess(ctx context.Context, res *syncsvc.UploadResult, p *models.SyncPayload) error {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return fmt.Errorf("decode meal payload: %w", err)
	}

	if req.Action == ActionDeleteScan || res.ServerID == "" {
		return nil
	}

	err := st.svc.mutateScan(ctx, req.ScanID, func(scan *models.MealScan) {
		scan.ServerID = res.ServerID
		scan.Synced = true
	})
	if errors.Is(err, ErrScanNotFound) {
		return nil
	}
	return err
}

// OnFailure records the attempt; queue bookkeeping handles the retry.
func (st *Strategy) OnFailure(err error, p *models.SyncPayload) {
	st.svc.logger.WithError(err).WithField("payload_id", p.ID).Debug("Meal sync attempt failed")
}

// resourceGone reports server answers that mean the document no longer
// exists.
func resourceGone(err error) bool {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return true
	}
	return apiErr.Conflict()
}
