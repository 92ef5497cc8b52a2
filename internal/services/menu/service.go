// Package menu owns the cafeteria surface: published menus, the local
// cart, checkout, and favorite dishes. Menus are a read-through cache
// refreshed when online; cart edits are purely local; checkout and
// favorite toggles follow the offline-first queue pattern.
package menu

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

// stateKey is the store key for all local menu-domain state.
const stateKey = "menu_state"

// Sentinel errors for menu operations.
var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrMenuNotCached = errors.New("menu not cached for date")
	ErrOrderNotFound = errors.New("order not found")
)

// FavoriteEntry is one favorited dish, stored under its normalized key.
type FavoriteEntry struct {
	Name    string    `json:"name"`
	Synced  bool      `json:"synced"`
	AddedAt time.Time `json:"added_at"`
}

// menuState is the single persisted document for this domain.
type menuState struct {
	Menus     map[string]*models.Menu   `json:"menus,omitempty"`
	Cart      []models.CartLine         `json:"cart,omitempty"`
	Orders    map[string]*models.Order  `json:"orders,omitempty"`
	Favorites map[string]*FavoriteEntry `json:"favorites,omitempty"`
}

func newMenuState() *menuState {
	return &menuState{
		Menus:     make(map[string]*models.Menu),
		Orders:    make(map[string]*models.Order),
		Favorites: make(map[string]*FavoriteEntry),
	}
}

// Service handles menu, cart, order, and favorite operations.
type Service struct {
	api    remote.API
	store  store.Store
	mgr    *syncsvc.Manager
	logger *events.Logger

	mu sync.Mutex
}

// NewService creates a menu service.
func NewService(api remote.API, st store.Store, mgr *syncsvc.Manager, logger *events.Logger) *Service {
	return &Service{
		api:    api,
		store:  st,
		mgr:    mgr,
		logger: logger.WithField("service", "menu"),
	}
}

// Strategy returns the sync handler for the menu domain.
func (s *Service) Strategy() *Strategy {
	return &Strategy{svc: s}
}

// RefreshMenu fetches the menu for a date (YYYY-MM-DD) and caches it.
// Needs connectivity; offline callers read the cache via MenuFor.
func (s *Service) RefreshMenu(ctx context.Context, date string) (*models.Menu, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, &models.ValidationError{Domain: models.DomainMenu, Field: "date", Reason: "expected YYYY-MM-DD"}
	}

	resp, err := s.api.FetchMenu(ctx, date)
	if err != nil {
		return nil, err
	}

	menu := &models.Menu{
		Date:      date,
		Items:     resp.Items,
		FetchedAt: time.Now().UTC(),
	}

	err = s.mutateState(ctx, func(state *menuState) error {
		state.Menus[date] = menu
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"date":  date,
		"items": len(menu.Items),
	}).Debug("Menu cached")
	return menu, nil
}

// MenuFor returns the cached menu for a date.
func (s *Service) MenuFor(ctx context.Context, date string) (*models.Menu, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	menu, ok := state.Menus[date]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMenuNotCached, date)
	}
	return menu, nil
}

// AddToCart puts quantity of a dish in the cart, merging with an
// existing line for the same item.
func (s *Service) AddToCart(ctx context.Context, item models.MenuItem, quantity int) error {
	if quantity <= 0 {
		return &models.ValidationError{Domain: models.DomainMenu, Field: "quantity", Reason: "must be positive"}
	}
	if item.ID == "" {
		return &models.ValidationError{Domain: models.DomainMenu, Field: "item_id", Reason: "required"}
	}

	return s.mutateState(ctx, func(state *menuState) error {
		for i := range state.Cart {
			if state.Cart[i].ItemID == item.ID {
				state.Cart[i].Quantity += quantity
				return nil
			}
		}
		state.Cart = append(state.Cart, models.CartLine{
			ItemID:   item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: quantity,
		})
		return nil
	})
}

// RemoveFromCart drops a dish from the cart. Removing an absent item is
// a no-op.
func (s *Service) RemoveFromCart(ctx context.Context, itemID string) error {
	return s.mutateState(ctx, func(state *menuState) error {
		kept := state.Cart[:0]
		for _, line := range state.Cart {
			if line.ItemID != itemID {
				kept = append(kept, line)
			}
		}
		state.Cart = kept
		return nil
	})
}

// Cart returns the current cart lines.
func (s *Service) Cart(ctx context.Context) ([]models.CartLine, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return state.Cart, nil
}

// ClearCart empties the cart without ordering.
func (s *Service) ClearCart(ctx context.Context) error {
	return s.mutateState(ctx, func(state *menuState) error {
		state.Cart = nil
		return nil
	})
}

// Checkout converts the cart into a local order and queues its
// submission. The cart empties immediately; the order carries Synced
// false until the backend confirms it.
func (s *Service) Checkout(ctx context.Context) (*models.Order, error) {
	var order *models.Order
	err := s.mutateState(ctx, func(state *menuState) error {
		if len(state.Cart) == 0 {
			return ErrEmptyCart
		}

		total := 0.0
		for _, line := range state.Cart {
			total += line.Price * float64(line.Quantity)
		}

		order = &models.Order{
			ID:       "order_" + uuid.NewString(),
			Lines:    state.Cart,
			Total:    total,
			PlacedAt: time.Now().UTC(),
		}
		state.Orders[order.ID] = order
		state.Cart = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := &Request{Action: ActionSubmitOrder, OrderID: order.ID}
	if _, err := s.mgr.Sync(ctx, models.DomainMenu, req); err != nil {
		return order, err
	}

	s.logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"total":    order.Total,
	}).Info("Order placed locally")
	return order, nil
}

// Order returns one order by local ID.
func (s *Service) Order(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	order, ok := state.Orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}

// Orders returns all local orders, newest first.
func (s *Service) Orders(ctx context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Order, 0, len(state.Orders))
	for _, order := range state.Orders {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlacedAt.After(out[j].PlacedAt)
	})
	return out, nil
}

// Favorite marks a dish as favorite and queues the push. The dish is
// keyed by its normalized name, so spelling variants collapse.
func (s *Service) Favorite(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &models.ValidationError{Domain: models.DomainMenu, Field: "name", Reason: "required"}
	}
	key := DishKey(name)

	err := s.mutateState(ctx, func(state *menuState) error {
		state.Favorites[key] = &FavoriteEntry{Name: name, AddedAt: time.Now().UTC()}
		return nil
	})
	if err != nil {
		return err
	}

	req := &Request{Action: ActionFavoriteDish, DishKey: key, Name: name}
	_, err = s.mgr.Sync(ctx, models.DomainMenu, req)
	return err
}

// Unfavorite removes a favorite and queues the push. The removal is
// pushed even when the dish was not favorited locally, so devices
// converge.
func (s *Service) Unfavorite(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &models.ValidationError{Domain: models.DomainMenu, Field: "name", Reason: "required"}
	}
	key := DishKey(name)

	err := s.mutateState(ctx, func(state *menuState) error {
		delete(state.Favorites, key)
		return nil
	})
	if err != nil {
		return err
	}

	req := &Request{Action: ActionUnfavoriteDish, DishKey: key, Name: name}
	_, err = s.mgr.Sync(ctx, models.DomainMenu, req)
	return err
}

// IsFavorite reports whether a dish is favorited locally.
func (s *Service) IsFavorite(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	_, ok := state.Favorites[DishKey(name)]
	return ok, nil
}

// Favorites returns all favorited dishes sorted by name.
func (s *Service) Favorites(ctx context.Context) ([]*FavoriteEntry, error) {
	s.mu.Lock()
	state, err := s.loadState(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*FavoriteEntry, 0, len(state.Favorites))
	for _, entry := range state.Favorites {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// lookupOrder is used by the strategy at drain time.
func (s *Service) lookupOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	order, ok := state.Orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}

// mutateState runs a read-modify-write on the domain state under the
// service lock. An error from fn aborts without saving.
func (s *Service) mutateState(ctx context.Context, fn func(*menuState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.saveState(ctx, state)
}

func (s *Service) loadState(ctx context.Context) (*menuState, error) {
	data, err := s.store.Load(ctx, stateKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return newMenuState(), nil
	}
	if err != nil {
		return nil, err
	}

	state := newMenuState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse menu state: %w", err)
	}
	if state.Menus == nil {
		state.Menus = make(map[string]*models.Menu)
	}
	if state.Orders == nil {
		state.Orders = make(map[string]*models.Order)
	}
	if state.Favorites == nil {
		state.Favorites = make(map[string]*FavoriteEntry)
	}
	return state, nil
}

func (s *Service) saveState(ctx context.Context, state *menuState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal menu state: %w", err)
	}
	if err := s.store.Save(ctx, stateKey, data); err != nil {
		return fmt.Errorf("save menu state: %w", err)
	}
	return nil
}
