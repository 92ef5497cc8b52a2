package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
)

// Action names one queued menu operation.
type Action string

const (
	ActionSubmitOrder    Action = "submitOrder"
	ActionFavoriteDish   Action = "favoriteDish"
	ActionUnfavoriteDish Action = "unfavoriteDish"
)

// Request is the menu domain's queue envelope.
type Request struct {
	Action  Action `json:"action"`
	OrderID string `json:"order_id,omitempty"`
	DishKey string `json:"dish_key,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Strategy syncs queued orders and favorite toggles. Orders carry the
// local ID as a client reference so a replayed submission never
// double-charges; favorite toggles are idempotent PUTs.
type Strategy struct {
	svc *Service
}

// Domain returns the domain this strategy owns.
func (st *Strategy) Domain() models.Domain { return models.DomainMenu }

// Priority returns the drain priority for menu payloads.
func (st *Strategy) Priority() int { return 3 }

// MaxRetries returns the retry ceiling for menu payloads.
func (st *Strategy) MaxRetries() int { return 3 }

// Validate checks the request envelope before it is enqueued.
func (st *Strategy) Validate(data interface{}) error {
	req, ok := data.(*Request)
	if !ok {
		return &models.ValidationError{Domain: models.DomainMenu, Field: "data", Reason: fmt.Sprintf("unexpected payload type %T", data)}
	}

	switch req.Action {
	case ActionSubmitOrder:
		if req.OrderID == "" {
			return &models.ValidationError{Domain: models.DomainMenu, Field: "order_id", Reason: "required"}
		}
	case ActionFavoriteDish, ActionUnfavoriteDish:
		if req.DishKey == "" || req.Name == "" {
			return &models.ValidationError{Domain: models.DomainMenu, Field: "dish", Reason: "key and name required"}
		}
	default:
		return &models.ValidationError{Domain: models.DomainMenu, Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	return nil
}

// Prepare serializes the request into a payload.
func (st *Strategy) Prepare(data interface{}) (*models.SyncPayload, error) {
	req, ok := data.(*Request)
	if !ok {
		return nil, fmt.Errorf("unexpected menu payload type %T", data)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal menu request: %w", err)
	}
	return models.NewSyncPayload(models.DomainMenu, raw, st.Priority(), st.MaxRetries()), nil
}

// Upload pushes one queued menu action to the backend.
func (st *Strategy) Upload(ctx context.Context, p *models.SyncPayload) (*syncsvc.UploadResult, error) {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return nil, fmt.Errorf("decode menu payload: %w", err)
	}

	switch req.Action {
	case ActionSubmitOrder:
		return st.submitOrder(ctx, &req)

	case ActionFavoriteDish:
		fav := remote.FavoriteRequest{DishKey: req.DishKey, Name: req.Name, Favorite: true}
		if err := st.svc.api.SetFavorite(ctx, &fav); err != nil {
			return nil, err
		}
		return &syncsvc.UploadResult{}, nil

	case ActionUnfavoriteDish:
		fav := remote.FavoriteRequest{DishKey: req.DishKey, Name: req.Name, Favorite: false}
		if err := st.svc.api.SetFavorite(ctx, &fav); err != nil {
			return nil, err
		}
		return &syncsvc.UploadResult{}, nil

	default:
		return nil, fmt.Errorf("unknown menu action %q", req.Action)
	}
}

// submitOrder pushes the order's current local state. An order that
// already has a server ID was confirmed by an earlier replay.
func (st *Strategy) submitOrder(ctx context.Context, req *Request) (*syncsvc.UploadResult, error) {
	order, err := st.svc.lookupOrder(ctx, req.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		return &syncsvc.UploadResult{Conflict: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if order.ServerID != "" {
		return &syncsvc.UploadResult{ServerID: order.ServerID, Conflict: true}, nil
	}

	resp, err := st.svc.api.SubmitOrder(ctx, &remote.OrderRequest{
		ClientID: order.ID,
		Lines:    order.Lines,
		Total:    order.Total,
		PlacedAt: order.PlacedAt,
	})
	if err != nil {
		return nil, err
	}
	return &syncsvc.UploadResult{ServerID: resp.ServerID}, nil
}

// OnSuccess reconciles local state after a drained action.
func (st *Strategy) OnSuccess(ctx context.Context, res *syncsvc.UploadResult, p *models.SyncPayload) error {
	var req Request
	if err := json.Unmarshal(p.Data, &req); err != nil {
		return fmt.Errorf("decode menu payload: %w", err)
	}

	switch req.Action {
	case ActionSubmitOrder:
		if res.ServerID == "" {
			return nil
		}
		return st.svc.mutateState(ctx, func(state *menuState) error {
			if order, ok := state.Orders[req.OrderID]; ok {
				order.ServerID = res.ServerID
				order.Synced = true
			}
			return nil
		})

	case ActionFavoriteDish:
		return st.svc.mutateState(ctx, func(state *menuState) error {
			if entry, ok := state.Favorites[req.DishKey]; ok {
				entry.Synced = true
			}
			return nil
		})
	}
	return nil
}

// OnFailure records the attempt; queue bookkeeping handles the retry.
func (st *Strategy) OnFailure(err error, p *models.SyncPayload) {
	st.svc.logger.WithError(err).WithField("payload_id", p.ID).Debug("Menu sync attempt failed")
}
