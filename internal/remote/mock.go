package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock implements the typed API surface in memory for strategy and
// service tests. Inject errors per endpoint name; calls are recorded
// in order.
type Mock struct {
	mu sync.Mutex

	// Error injection, keyed by method name ("CreateScan", "Login", ...).
	Errors map[string]error

	// Overrides for endpoints whose default behavior is not enough.
	RegisterFunc func(ctx context.Context, req *RegisterRequest) (*Session, error)
	LoginFunc    func(ctx context.Context, req *Credentials) (*Session, error)

	// Canned responses.
	MenuByDate map[string]*MenuResponse
	Profile    *AccountProfile

	// Request tracking.
	Calls           []string
	ScanUploads     []ScanUpload
	ScanUpdates     map[string]ScanUpload
	ScanDeletes     []string
	Orders          []OrderRequest
	Favorites       []FavoriteRequest
	PhotoJobs       []PhotoJobRequest
	ProfileUpdates  []ProfileUpdate
	PasswordChanges []PasswordChange

	token   string
	counter int
}

// NewMock creates a mock API client.
func NewMock() *Mock {
	return &Mock{
		Errors:      make(map[string]error),
		MenuByDate:  make(map[string]*MenuResponse),
		ScanUpdates: make(map[string]ScanUpload),
	}
}

// Fail injects an error for one endpoint.
func (m *Mock) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[method] = err
}

// Reset clears injected errors and tracking.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = make(map[string]error)
	m.Calls = nil
	m.ScanUploads = nil
	m.ScanUpdates = make(map[string]ScanUpload)
	m.ScanDeletes = nil
	m.Orders = nil
	m.Favorites = nil
	m.PhotoJobs = nil
	m.ProfileUpdates = nil
	m.PasswordChanges = nil
}

// CallCount returns how many times one endpoint was hit.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.Calls {
		if c == method {
			count++
		}
	}
	return count
}

func (m *Mock) record(method string) error {
	m.Calls = append(m.Calls, method)
	return m.Errors[method]
}

func (m *Mock) nextID(prefix string) string {
	m.counter++
	return fmt.Sprintf("%s-%04d", prefix, m.counter)
}

// SetToken records the token like the real client.
func (m *Mock) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Token returns the recorded token.
func (m *Mock) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Register mocks account creation.
func (m *Mock) Register(ctx context.Context, req *RegisterRequest) (*Session, error) {
	m.mu.Lock()
	if err := m.record("Register"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	fn := m.RegisterFunc
	userID := m.nextID("user")
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	return &Session{
		Token:  "mock-token-" + userID,
		UserID: userID,
		Email:  req.Email,
	}, nil
}

// Login mocks authentication.
func (m *Mock) Login(ctx context.Context, req *Credentials) (*Session, error) {
	m.mu.Lock()
	if err := m.record("Login"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	fn := m.LoginFunc
	userID := m.nextID("user")
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	return &Session{
		Token:  "mock-token-" + userID,
		UserID: userID,
		Email:  req.Email,
	}, nil
}

// Refresh mocks token renewal.
func (m *Mock) Refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("Refresh"); err != nil {
		return nil, err
	}
	m.counter++
	m.token = fmt.Sprintf("mock-token-r%04d", m.counter)
	return &Session{
		Token:     m.token,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

// FetchProfile mocks profile retrieval.
func (m *Mock) FetchProfile(ctx context.Context) (*AccountProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("FetchProfile"); err != nil {
		return nil, err
	}
	if m.Profile != nil {
		p := *m.Profile
		return &p, nil
	}
	return &AccountProfile{UserID: "user-0000", Email: "mock@example.com"}, nil
}

// UpdateProfile mocks profile updates.
func (m *Mock) UpdateProfile(ctx context.Context, req *ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("UpdateProfile"); err != nil {
		return err
	}
	m.ProfileUpdates = append(m.ProfileUpdates, *req)
	return nil
}

// ChangePassword mocks password rotation.
func (m *Mock) ChangePassword(ctx context.Context, req *PasswordChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("ChangePassword"); err != nil {
		return err
	}
	m.PasswordChanges = append(m.PasswordChanges, *req)
	return nil
}

// Logout mocks session invalidation.
func (m *Mock) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Logout")
}

// DeleteAccount mocks account removal.
func (m *Mock) DeleteAccount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("DeleteAccount")
}

// CreateScan mocks scan creation.
func (m *Mock) CreateScan(ctx context.Context, req *ScanUpload) (*ScanResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("CreateScan"); err != nil {
		return nil, err
	}
	m.ScanUploads = append(m.ScanUploads, *req)
	return &ScanResponse{ServerID: m.nextID("scan")}, nil
}

// UpdateScan mocks scan replacement.
func (m *Mock) UpdateScan(ctx context.Context, serverID string, req *ScanUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("UpdateScan"); err != nil {
		return err
	}
	m.ScanUpdates[serverID] = *req
	return nil
}

// DeleteScan mocks scan removal.
func (m *Mock) DeleteScan(ctx context.Context, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("DeleteScan"); err != nil {
		return err
	}
	m.ScanDeletes = append(m.ScanDeletes, serverID)
	return nil
}

// FetchMenu mocks menu retrieval.
func (m *Mock) FetchMenu(ctx context.Context, date string) (*MenuResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("FetchMenu"); err != nil {
		return nil, err
	}
	if menu, ok := m.MenuByDate[date]; ok {
		return menu, nil
	}
	return &MenuResponse{Date: date}, nil
}

// SubmitOrder mocks order placement.
func (m *Mock) SubmitOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("SubmitOrder"); err != nil {
		return nil, err
	}
	m.Orders = append(m.Orders, *req)
	return &OrderResponse{ServerID: m.nextID("order")}, nil
}

// SetFavorite mocks favorite toggling.
func (m *Mock) SetFavorite(ctx context.Context, req *FavoriteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("SetFavorite"); err != nil {
		return err
	}
	m.Favorites = append(m.Favorites, *req)
	return nil
}

// SubmitPhotoJob mocks photo job submission.
func (m *Mock) SubmitPhotoJob(ctx context.Context, req *PhotoJobRequest) (*PhotoJobResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("SubmitPhotoJob"); err != nil {
		return nil, err
	}
	m.PhotoJobs = append(m.PhotoJobs, *req)
	return &PhotoJobResponse{JobID: m.nextID("job")}, nil
}

// Health mocks the health endpoint.
func (m *Mock) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Health")
}
