package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/platewise/mealsync/internal/models"
)

// API is the typed PlateWise endpoint surface the domain services call.
// Client implements it against the real backend; Mock implements it in
// memory for tests.
type API interface {
	SetToken(token string)
	Token() string

	Register(ctx context.Context, req *RegisterRequest) (*Session, error)
	Login(ctx context.Context, req *Credentials) (*Session, error)
	Refresh(ctx context.Context) (*Session, error)
	FetchProfile(ctx context.Context) (*AccountProfile, error)
	UpdateProfile(ctx context.Context, req *ProfileUpdate) error
	ChangePassword(ctx context.Context, req *PasswordChange) error
	Logout(ctx context.Context) error
	DeleteAccount(ctx context.Context) error

	CreateScan(ctx context.Context, req *ScanUpload) (*ScanResponse, error)
	UpdateScan(ctx context.Context, serverID string, req *ScanUpload) error
	DeleteScan(ctx context.Context, serverID string) error

	FetchMenu(ctx context.Context, date string) (*MenuResponse, error)
	SubmitOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	SetFavorite(ctx context.Context, req *FavoriteRequest) error

	SubmitPhotoJob(ctx context.Context, req *PhotoJobRequest) (*PhotoJobResponse, error)

	Health(ctx context.Context) error
}

var (
	_ API = (*Client)(nil)
	_ API = (*Mock)(nil)
)

// Wire types. These mirror what the backend speaks; domain records in
// internal/models stay decoupled from them.

// Credentials for login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is the server's answer to register/login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
}

// ProfileUpdate carries changed profile fields.
type ProfileUpdate struct {
	DisplayName  string `json:"display_name,omitempty"`
	CalorieGoal  int    `json:"calorie_goal,omitempty"`
	DietaryNotes string `json:"dietary_notes,omitempty"`
}

// AccountProfile is the server's profile document.
type AccountProfile struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	CalorieGoal  int    `json:"calorie_goal,omitempty"`
	DietaryNotes string `json:"dietary_notes,omitempty"`
}

// PasswordChange rotates the account password.
type PasswordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ScanUpload creates or replaces a meal scan document.
type ScanUpload struct {
	ClientID  string           `json:"client_id"`
	Name      string           `json:"name"`
	Nutrition models.Nutrition `json:"nutrition"`
	PhotoPath string           `json:"photo_path,omitempty"`
	ScannedAt time.Time        `json:"scanned_at"`
}

// ScanResponse returns the server-side scan ID.
type ScanResponse struct {
	ServerID string `json:"id"`
}

// MenuResponse is one day's menu.
type MenuResponse struct {
	Date  string            `json:"date"`
	Items []models.MenuItem `json:"items"`
}

// OrderRequest submits a cart.
type OrderRequest struct {
	ClientID string            `json:"client_id"`
	Lines    []models.CartLine `json:"lines"`
	Total    float64           `json:"total"`
	PlacedAt time.Time         `json:"placed_at"`
}

// OrderResponse returns the server-side order ID.
type OrderResponse struct {
	ServerID string `json:"id"`
}

// FavoriteRequest toggles a favorite dish. DishKey is the normalized
// dish name the client uses for cross-device matching.
type FavoriteRequest struct {
	DishKey  string `json:"dish_key"`
	Name     string `json:"name"`
	Favorite bool   `json:"favorite"`
}

// PhotoJobRequest submits a photo for asynchronous analysis.
type PhotoJobRequest struct {
	ScanID   string `json:"scan_id"`
	FileName string `json:"file_name"`
	Content  string `json:"content"` // base64
}

// PhotoJobResponse returns the server-side analysis job ID.
type PhotoJobResponse struct {
	JobID string `json:"job_id"`
}

// Auth endpoints

// Register creates an account and returns the session.
func (c *Client) Register(ctx context.Context, req *RegisterRequest) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/auth/register", req, &session); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &session, nil
}

// Login authenticates and returns the session.
func (c *Client) Login(ctx context.Context, req *Credentials) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", req, &session); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &session, nil
}

// Refresh exchanges the current token for a fresh session. The server
// rejects expired tokens, so callers should refresh before expiry.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", nil, &session); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &session, nil
}

// FetchProfile loads the server-side profile document.
func (c *Client) FetchProfile(ctx context.Context) (*AccountProfile, error) {
	var profile AccountProfile
	if err := c.do(ctx, http.MethodGet, "/v1/account/profile", nil, &profile); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &profile, nil
}

// UpdateProfile pushes profile changes.
func (c *Client) UpdateProfile(ctx context.Context, req *ProfileUpdate) error {
	if err := c.do(ctx, http.MethodPut, "/v1/account/profile", req, nil); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// ChangePassword rotates the account password.
func (c *Client) ChangePassword(ctx context.Context, req *PasswordChange) error {
	if err := c.do(ctx, http.MethodPost, "/v1/account/password", req, nil); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// Logout invalidates the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// DeleteAccount removes the account and all server-side data.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/account", nil, nil); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// Meal endpoints

// CreateScan uploads a new meal scan.
func (c *Client) CreateScan(ctx context.Context, req *ScanUpload) (*ScanResponse, error) {
	var resp ScanResponse
	if err := c.do(ctx, http.MethodPost, "/v1/scans", req, &resp); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	return &resp, nil
}

// UpdateScan replaces a scan document.
func (c *Client) UpdateScan(ctx context.Context, serverID string, req *ScanUpload) error {
	path := "/v1/scans/" + url.PathEscape(serverID)
	if err := c.do(ctx, http.MethodPut, path, req, nil); err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	return nil
}

// DeleteScan removes a scan document.
func (c *Client) DeleteScan(ctx context.Context, serverID string) error {
	path := "/v1/scans/" + url.PathEscape(serverID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete scan: %w", err)
	}
	return nil
}

// Menu endpoints

// FetchMenu loads the menu for a date (YYYY-MM-DD).
func (c *Client) FetchMenu(ctx context.Context, date string) (*MenuResponse, error) {
	var resp MenuResponse
	path := "/v1/menu?date=" + url.QueryEscape(date)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch menu: %w", err)
	}
	return &resp, nil
}

// SubmitOrder places an order.
func (c *Client) SubmitOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	return &resp, nil
}

// SetFavorite toggles a favorite dish.
func (c *Client) SetFavorite(ctx context.Context, req *FavoriteRequest) error {
	if err := c.do(ctx, http.MethodPut, "/v1/favorites", req, nil); err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	return nil
}

// Photo endpoints

// SubmitPhotoJob uploads a photo for asynchronous AI analysis.
func (c *Client) SubmitPhotoJob(ctx context.Context, req *PhotoJobRequest) (*PhotoJobResponse, error) {
	var resp PhotoJobResponse
	if err := c.do(ctx, http.MethodPost, "/v1/photos", req, &resp); err != nil {
		return nil, fmt.Errorf("submit photo job: %w", err)
	}
	return &resp, nil
}

// Health checks API reachability.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}
