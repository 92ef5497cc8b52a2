package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
)

// TestServer is an in-memory PlateWise backend for integration tests.
// It speaks the same wire format as the real API: bearer-token auth,
// duplicate registration conflicts, and client-ID deduplication for
// scans and orders.
type TestServer struct {
	*httptest.Server

	mu             sync.Mutex
	seq            int
	accounts       map[string]*serverAccount
	tokens         map[string]string // token -> email
	scans          map[string]*ServerScan
	scansByClient  map[string]string // client_id -> server id
	menus          map[string][]models.MenuItem
	orders         map[string]*ServerOrder
	ordersByClient map[string]string
	favorites      map[string]remote.FavoriteRequest
	photoJobs      []*ServerPhotoJob
	failRules      []*failRule
	hits           map[string]int
}

type serverAccount struct {
	Email        string
	Password     string
	DisplayName  string
	UserID       string
	CalorieGoal  int
	DietaryNotes string
}

// ServerScan is a stored scan document plus its server ID.
type ServerScan struct {
	ID string
	remote.ScanUpload
}

// ServerOrder is a stored order plus its server ID.
type ServerOrder struct {
	ID string
	remote.OrderRequest
}

// ServerPhotoJob is a stored photo job plus its job ID.
type ServerPhotoJob struct {
	JobID string
	remote.PhotoJobRequest
}

// AccountState is a server-side account snapshot for assertions.
type AccountState struct {
	Email        string
	DisplayName  string
	CalorieGoal  int
	DietaryNotes string
}

type failRule struct {
	method string
	path   string
	status int
	times  int
}

// NewTestServer starts the fake backend. Callers own Close.
func NewTestServer() *TestServer {
	ts := &TestServer{
		accounts:       make(map[string]*serverAccount),
		tokens:         make(map[string]string),
		scans:          make(map[string]*ServerScan),
		scansByClient:  make(map[string]string),
		menus:          make(map[string][]models.MenuItem),
		orders:         make(map[string]*ServerOrder),
		ordersByClient: make(map[string]string),
		favorites:      make(map[string]remote.FavoriteRequest),
		hits:           make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", ts.handleHealth)
	mux.HandleFunc("/v1/auth/register", ts.handleRegister)
	mux.HandleFunc("/v1/auth/login", ts.handleLogin)
	mux.HandleFunc("/v1/auth/refresh", ts.handleRefresh)
	mux.HandleFunc("/v1/auth/logout", ts.handleLogout)
	mux.HandleFunc("/v1/account", ts.handleAccount)
	mux.HandleFunc("/v1/account/profile", ts.handleProfile)
	mux.HandleFunc("/v1/account/password", ts.handlePassword)
	mux.HandleFunc("/v1/scans", ts.handleScans)
	mux.HandleFunc("/v1/scans/", ts.handleScanByID)
	mux.HandleFunc("/v1/menu", ts.handleMenu)
	mux.HandleFunc("/v1/orders", ts.handleOrders)
	mux.HandleFunc("/v1/favorites", ts.handleFavorites)
	mux.HandleFunc("/v1/photos", ts.handlePhotos)

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.recordHit(r)
		if status, ok := ts.failFor(r); ok {
			http.Error(w, "injected failure", status)
			return
		}
		mux.ServeHTTP(w, r)
	}))

	return ts
}

// ClientConfig returns a config wired to this server with storage
// under dataDir.
func (ts *TestServer) ClientConfig(dataDir string) *config.Config {
	cfg := TestConfigWithDir(dataDir)
	cfg.API.BaseURL = ts.URL
	return cfg
}

// AddAccount seeds a registered account.
func (ts *TestServer) AddAccount(email, password, displayName string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.seq++
	ts.accounts[email] = &serverAccount{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
		UserID:      fmt.Sprintf("user-%04d", ts.seq),
	}
}

// SetMenu publishes a menu for a date (YYYY-MM-DD).
func (ts *TestServer) SetMenu(date string, items []models.MenuItem) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.menus[date] = items
}

// FailNext makes the next matching requests fail with the given
// status. Empty method or path matches everything; path matches by
// prefix.
func (ts *TestServer) FailNext(method, path string, status, times int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failRules = append(ts.failRules, &failRule{
		method: method,
		path:   path,
		status: status,
		times:  times,
	})
}

// Hits counts requests received for a method and path prefix.
func (ts *TestServer) Hits(method, pathPrefix string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	total := 0
	for key, n := range ts.hits {
		parts := strings.SplitN(key, " ", 2)
		if parts[0] == method && strings.HasPrefix(parts[1], pathPrefix) {
			total += n
		}
	}
	return total
}

// HasAccount reports whether an account exists for email.
func (ts *TestServer) HasAccount(email string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.accounts[email]
	return ok
}

// Account returns a snapshot of the stored account.
func (ts *TestServer) Account(email string) (AccountState, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	acct, ok := ts.accounts[email]
	if !ok {
		return AccountState{}, false
	}
	return AccountState{
		Email:        acct.Email,
		DisplayName:  acct.DisplayName,
		CalorieGoal:  acct.CalorieGoal,
		DietaryNotes: acct.DietaryNotes,
	}, true
}

// Scans returns all stored scan documents.
func (ts *TestServer) Scans() []ServerScan {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make([]ServerScan, 0, len(ts.scans))
	for _, s := range ts.scans {
		out = append(out, *s)
	}
	return out
}

// Orders returns all stored orders.
func (ts *TestServer) Orders() []ServerOrder {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make([]ServerOrder, 0, len(ts.orders))
	for _, o := range ts.orders {
		out = append(out, *o)
	}
	return out
}

// Favorite returns the stored favorite flag for a normalized dish key.
func (ts *TestServer) Favorite(dishKey string) (remote.FavoriteRequest, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	fav, ok := ts.favorites[dishKey]
	return fav, ok
}

// PhotoJobs returns all stored photo jobs.
func (ts *TestServer) PhotoJobs() []ServerPhotoJob {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make([]ServerPhotoJob, 0, len(ts.photoJobs))
	for _, j := range ts.photoJobs {
		out = append(out, *j)
	}
	return out
}

func (ts *TestServer) recordHit(r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.hits[r.Method+" "+r.URL.Path]++
}

func (ts *TestServer) failFor(r *http.Request) (int, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for i, rule := range ts.failRules {
		if rule.method != "" && rule.method != r.Method {
			continue
		}
		if rule.path != "" && !strings.HasPrefix(r.URL.Path, rule.path) {
			continue
		}

		rule.times--
		if rule.times <= 0 {
			ts.failRules = append(ts.failRules[:i], ts.failRules[i+1:]...)
		}
		return rule.status, true
	}
	return 0, false
}

// Handlers

func (ts *TestServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (ts *TestServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req remote.RegisterRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.accounts[req.Email]; exists {
		http.Error(w, "account already exists", http.StatusConflict)
		return
	}

	ts.seq++
	acct := &serverAccount{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		UserID:      fmt.Sprintf("user-%04d", ts.seq),
	}
	ts.accounts[req.Email] = acct

	writeJSON(w, ts.newSessionLocked(acct))
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req remote.Credentials
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	acct, ok := ts.accounts[req.Email]
	if !ok || acct.Password != req.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, ts.newSessionLocked(acct))
}

func (ts *TestServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	acct, ok := ts.authLocked(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, ts.newSessionLocked(acct))
}

func (ts *TestServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	delete(ts.tokens, bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	acct, ok := ts.authLocked(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	delete(ts.accounts, acct.Email)
	for token, email := range ts.tokens {
		if email == acct.Email {
			delete(ts.tokens, token)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	acct, ok := ts.authLocked(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, remote.AccountProfile{
			UserID:       acct.UserID,
			Email:        acct.Email,
			DisplayName:  acct.DisplayName,
			CalorieGoal:  acct.CalorieGoal,
			DietaryNotes: acct.DietaryNotes,
		})

	case http.MethodPut:
		var req remote.ProfileUpdate
		if err := decodeJSON(r.Body, &req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.DisplayName != "" {
			acct.DisplayName = req.DisplayName
		}
		if req.CalorieGoal != 0 {
			acct.CalorieGoal = req.CalorieGoal
		}
		if req.DietaryNotes != "" {
			acct.DietaryNotes = req.DietaryNotes
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (ts *TestServer) handlePassword(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	acct, ok := ts.authLocked(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req remote.PasswordChange
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if acct.Password != req.CurrentPassword {
		http.Error(w, "wrong password", http.StatusForbidden)
		return
	}

	acct.Password = req.NewPassword
	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req remote.ScanUpload
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	// Replayed upload of the same client record returns the original ID.
	if id, ok := ts.scansByClient[req.ClientID]; ok {
		writeJSON(w, remote.ScanResponse{ServerID: id})
		return
	}

	ts.seq++
	id := fmt.Sprintf("srv-scan-%04d", ts.seq)
	ts.scans[id] = &ServerScan{ID: id, ScanUpload: req}
	if req.ClientID != "" {
		ts.scansByClient[req.ClientID] = id
	}

	writeJSON(w, remote.ScanResponse{ServerID: id})
}

func (ts *TestServer) handleScanByID(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/scans/")

	switch r.Method {
	case http.MethodPut:
		scan, ok := ts.scans[id]
		if !ok {
			http.Error(w, "scan not found", http.StatusNotFound)
			return
		}
		var req remote.ScanUpload
		if err := decodeJSON(r.Body, &req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		scan.ScanUpload = req
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		scan, ok := ts.scans[id]
		if !ok {
			http.Error(w, "scan not found", http.StatusNotFound)
			return
		}
		delete(ts.scans, id)
		delete(ts.scansByClient, scan.ClientID)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (ts *TestServer) handleMenu(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	date := r.URL.Query().Get("date")
	items, ok := ts.menus[date]
	if !ok {
		http.Error(w, "no menu for date", http.StatusNotFound)
		return
	}

	writeJSON(w, remote.MenuResponse{Date: date, Items: items})
}

func (ts *TestServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req remote.OrderRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if id, ok := ts.ordersByClient[req.ClientID]; ok {
		writeJSON(w, remote.OrderResponse{ServerID: id})
		return
	}

	ts.seq++
	id := fmt.Sprintf("srv-order-%04d", ts.seq)
	ts.orders[id] = &ServerOrder{ID: id, OrderRequest: req}
	if req.ClientID != "" {
		ts.ordersByClient[req.ClientID] = id
	}

	writeJSON(w, remote.OrderResponse{ServerID: id})
}

func (ts *TestServer) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req remote.FavoriteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ts.favorites[req.DishKey] = req
	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) handlePhotos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.authLocked(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req remote.PhotoJobRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ts.seq++
	job := &ServerPhotoJob{JobID: fmt.Sprintf("srv-job-%04d", ts.seq), PhotoJobRequest: req}
	ts.photoJobs = append(ts.photoJobs, job)

	writeJSON(w, remote.PhotoJobResponse{JobID: job.JobID})
}

// newSessionLocked issues a token for the account. Caller holds mu.
func (ts *TestServer) newSessionLocked(acct *serverAccount) remote.Session {
	ts.seq++
	token := fmt.Sprintf("token-%04d", ts.seq)
	ts.tokens[token] = acct.Email

	return remote.Session{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		UserID:    acct.UserID,
		Email:     acct.Email,
	}
}

// authLocked resolves the bearer token. Caller holds mu.
func (ts *TestServer) authLocked(r *http.Request) (*serverAccount, bool) {
	email, ok := ts.tokens[bearerToken(r)]
	if !ok {
		return nil, false
	}
	acct, ok := ts.accounts[email]
	return acct, ok
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// TestConfigWithDir creates a test configuration rooted at dataDir.
// Background sync and retry backoff are disabled so tests control
// drains explicitly.
func TestConfigWithDir(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = "https://api.test.invalid"
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.Auth.TokenFile = filepath.Join(dataDir, "auth", "token.bin")
	cfg.Auth.DeviceSecretFile = filepath.Join(dataDir, "auth", "device.secret")
	cfg.Storage.DataDir = dataDir
	cfg.Storage.StoreDir = filepath.Join(dataDir, "store")
	cfg.Storage.DatabaseFile = filepath.Join(dataDir, "mealsync.db")
	cfg.Sync.AutoSync = false
	cfg.Sync.RetryBase = 0
	cfg.Log.Level = "error"
	cfg.Log.Color = false
	return cfg
}

// WaitForCondition polls until condition is true or the timeout hits.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// utility functions
func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
