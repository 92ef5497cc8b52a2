// Package meal owns scan records: meals the user captured and their
// analyzed nutrition. Writes commit locally first; a queued action per
// mutation reconciles the backend when connectivity allows.
package meal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
	"github.com/platewise/mealsync/internal/store"
)

// scansKey is the store key for the local scan collection.
const scansKey = "meal_scans"

// ErrScanNotFound marks lookups for scans that are not in the local cache.
var ErrScanNotFound = errors.New("meal scan not found")

// ScanUpdate carries edits to an existing scan. Zero-valued fields are
// left unchanged.
type ScanUpdate struct {
	Name      string
	Nutrition *models.Nutrition
	PhotoPath string
}

// Service handles meal scan operations.
type Service struct {
	api    remote.API
	store  store.Store
	mgr    *syncsvc.Manager
	logger *events.Logger

	mu sync.Mutex
}

// NewService creates a meal service.
func NewService(api remote.API, st store.Store, mgr *syncsvc.Manager, logger *events.Logger) *Service {
	return &Service{
		api:    api,
		store:  st,
		mgr:    mgr,
		logger: logger.WithField("service", "meal"),
	}
}

// Strategy returns the sync handler for the meal domain.
func (s *Service) Strategy() *Strategy {
	return &Strategy{svc: s}
}

// SubmitAnalysis commits a new scan locally and queues its upload. The
// scan is usable immediately; ServerID and Synced arrive once the
// queued action drains.
func (s *Service) SubmitAnalysis(ctx context.Context, name string, nutrition models.Nutrition, photoPath string) (*models.MealScan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &models.ValidationError{Domain: models.DomainMeal, Field: "name", Reason: "required"}
	}
	if err := validateNutrition(nutrition); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scan := &models.MealScan{
		ID:        "scan_" + uuid.NewString(),
		Name:      name,
		Nutrition: nutrition,
		PhotoPath: photoPath,
		ScannedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	scans, err := s.loadScans(ctx)
	if err == nil {
		scans[scan.ID] = scan
		err = s.saveScans(ctx, scans)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	req := &Request{Action: ActionSubmitAnalysis, ScanID: scan.ID}
	if _, err := s.mgr.Sync(ctx, models.DomainMeal, req); err != nil {
		return scan, err
	}

	s.logger.WithField("scan_id", scan.ID).Debug("Scan queued for upload")
	return scan, nil
}

// UpdateScan applies edits locally and queues the push. Updating a scan
// that never synced is fine: the drain creates it with the latest state.
func (s *Service) UpdateScan(ctx context.Context, id string, update ScanUpdate) (*models.MealScan, error) {
	if update.Nutrition != nil {
		if err := validateNutrition(*update.Nutrition); err != nil {
			return nil, err
		}
	}

	var updated *models.MealScan
	err := s.mutateScan(ctx, id, func(scan *models.MealScan) {
		if update.Name != "" {
			scan.Name = strings.TrimSpace(update.Name)
		}
		if update.Nutrition != nil {
			scan.Nutrition = *update.Nutrition
		}
		if update.PhotoPath != "" {
			scan.PhotoPath = update.PhotoPath
		}
		scan.Synced = false
		updated = scan
	})
	if err != nil {
		return nil, err
	}

	req := &Request{Action: ActionUpdateScan, ScanID: id}
	if _, err := s.mgr.Sync(ctx, models.DomainMeal, req); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteScan removes the scan locally and queues the server-side
// delete. The queued action carries the server ID because the local
// record is already gone by drain time.
func (s *Service) DeleteScan(ctx context.Context, id string) error {
	s.mu.Lock()
	scans, err := s.loadScans(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	scan, ok := scans[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	serverID := scan.ServerID
	delete(scans, id)
	err = s.saveScans(ctx, scans)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	req := &Request{Action: ActionDeleteScan, ScanID: id, ServerID: serverID}
	if _, err := s.mgr.Sync(ctx, models.DomainMeal, req); err != nil {
		return err
	}

	s.logger.WithField("scan_id", id).Debug("Scan deleted locally")
	return nil
}

// Scan returns one scan by local ID.
func (s *Service) Scan(ctx context.Context, id string) (*models.MealScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getScan(ctx, id)
}

// Scans returns all local scans, newest first.
func (s *Service) Scans(ctx context.Context) ([]*models.MealScan, error) {
	s.mu.Lock()
	scans, err := s.loadScans(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*models.MealScan, 0, len(scans))
	for _, scan := range scans {
		out = append(out, scan)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScannedAt.After(out[j].ScannedAt)
	})
	return out, nil
}

// UnsyncedCount reports how many local scans still await confirmation.
func (s *Service) UnsyncedCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	scans, err := s.loadScans(ctx)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, scan := range scans {
		if !scan.Synced {
			count++
		}
	}
	return count, nil
}

// getScan looks up one scan. Callers hold s.mu.
func (s *Service) getScan(ctx context.Context, id string) (*models.MealScan, error) {
	scans, err := s.loadScans(ctx)
	if err != nil {
		return nil, err
	}
	scan, ok := scans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return scan, nil
}

// lookupScan is the lock-taking variant for the strategy.
func (s *Service) lookupScan(ctx context.Context, id string) (*models.MealScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getScan(ctx, id)
}

// mutateScan runs a read-modify-write on one scan under the service
// lock, stamping UpdatedAt.
func (s *Service) mutateScan(ctx context.Context, id string, fn func(*models.MealScan)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scans, err := s.loadScans(ctx)
	if err != nil {
		return err
	}
	scan, ok := scans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}

	fn(scan)
	scan.UpdatedAt = time.Now().UTC()
	return s.saveScans(ctx, scans)
}

func (s *Service) loadScans(ctx context.Context) (map[string]*models.MealScan, error) {
	data, err := s.store.Load(ctx, scansKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return make(map[string]*models.MealScan), nil
	}
	if err != nil {
		return nil, err
	}

	var scans map[string]*models.MealScan
	if err := json.Unmarshal(data, &scans); err != nil {
		return nil, fmt.Errorf("parse scan cache: %w", err)
	}
	if scans == nil {
		scans = make(map[string]*models.MealScan)
	}
	return scans, nil
}

func (s *Service) saveScans(ctx context.Context, scans map[string]*models.MealScan) error {
	data, err := json.Marshal(scans)
	if err != nil {
		return fmt.Errorf("marshal scan cache: %w", err)
	}
	if err := s.store.Save(ctx, scansKey, data); err != nil {
		return fmt.Errorf("save scan cache: %w", err)
	}
	return nil
}

func validateNutrition(n models.Nutrition) error {
	for field, value := range map[string]float64{
		"calories": n.Calories,
		"protein":  n.Protein,
		"carbs":    n.Carbs,
		"fat":      n.Fat,
	} {
		if value < 0 {
			return &models.ValidationError{Domain: models.DomainMeal, Field: field, Reason: "cannot be negative"}
		}
	}
	return nil
}
