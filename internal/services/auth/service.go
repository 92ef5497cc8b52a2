// Package auth owns the account lifecycle: registration, sessions,
// profile edits, and teardown. Everything except Login follows the
// offline-first pattern: the local record changes immediately and a
// queued action reconciles the backend later.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/platewise/mealsync/internal/creds"
	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
	"github.com/platewise/mealsync/internal/store"
)

const (
	// profileKey is the store key for the cached account profile.
	profileKey = "auth_profile"

	minPasswordLen = 8

	// refreshWindow is how close to expiry a token may get before
	// EnsureSession renews it.
	refreshWindow = 5 * time.Minute

	// defaultSessionTTL is assumed when the server omits expires_at.
	defaultSessionTTL = 24 * time.Hour
)

// Service handles account operations.
type Service struct {
	api    remote.API
	tokens *creds.TokenCache
	store  store.Store
	mgr    *syncsvc.Manager
	logger *events.Logger

	mu      sync.Mutex
	session *models.TokenInfo
}

// NewService creates an auth service. Register its Strategy with the
// sync manager before calling any queueing operation.
func NewService(api remote.API, tokens *creds.TokenCache, st store.Store, mgr *syncsvc.Manager, logger *events.Logger) *Service {
	return &Service{
		api:    api,
		tokens: tokens,
		store:  st,
		mgr:    mgr,
		logger: logger.WithField("service", "auth"),
	}
}

// Strategy returns the sync handler for the auth domain.
func (s *Service) Strategy() *Strategy {
	return &Strategy{svc: s}
}

// Register stores the profile locally and queues account creation. It
// works offline; the account exists on the backend once the queued
// action drains. When enqueueing fails the local profile is still
// saved, so the returned profile is non-nil alongside the error.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*models.Profile, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	profile := &models.Profile{
		Email:       email,
		DisplayName: displayName,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.saveProfile(ctx, profile); err != nil {
		return nil, err
	}

	req := &Request{
		Action: ActionRegister,
		Register: &RegisterData{
			Email:       email,
			Password:    password,
			DisplayName: displayName,
		},
	}
	if _, err := s.mgr.Sync(ctx, models.DomainAuth, req); err != nil {
		return profile, err
	}

	s.logger.WithField("email", email).Info("Registration queued")
	return profile, nil
}

// Login authenticates directly against the backend. Unlike the queued
// operations it needs connectivity; there is no offline login.
func (s *Service) Login(ctx context.Context, email, password string) (*models.TokenInfo, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &models.ValidationError{Domain: models.DomainAuth, Field: "password", Reason: "required"}
	}

	sess, err := s.api.Login(ctx, &remote.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	info := sessionToken(sess, email)
	s.adoptSession(info)
	s.refreshProfile(ctx)

	s.logger.WithField("email", email).Info("Login successful")
	return info, nil
}

// Session returns the current session token, restoring it from the
// encrypted cache when needed. Returns models.ErrNotAuthenticated when
// no usable token exists.
func (s *Service) Session() (*models.TokenInfo, error) {
	s.mu.Lock()
	cached := s.session
	s.mu.Unlock()

	if cached != nil && !cached.IsExpired() {
		return cached, nil
	}

	info, err := s.tokens.Load()
	if err != nil {
		return nil, err
	}
	if info.IsExpired() {
		return nil, models.ErrNotAuthenticated
	}

	s.mu.Lock()
	s.session = info
	s.mu.Unlock()
	s.api.SetToken(info.Token)

	return info, nil
}

// EnsureSession checks the session and renews it when it is about to
// expire. A failed renewal is logged but not fatal while the current
// token remains valid.
func (s *Service) EnsureSession(ctx context.Context) error {
	info, err := s.Session()
	if err != nil {
		return err
	}

	if time.Until(info.ExpiresAt) >= refreshWindow {
		return nil
	}

	sess, err := s.api.Refresh(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Token refresh failed")
		return nil
	}

	fresh := sessionToken(sess, info.Email)
	if fresh.UserID == "" {
		fresh.UserID = info.UserID
	}
	s.adoptSession(fresh)
	s.logger.Debug("Session refreshed")
	return nil
}

// Profile returns the locally cached profile. Returns
// store.ErrKeyNotFound when nothing is cached yet.
func (s *Service) Profile(ctx context.Context) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadProfile(ctx)
}

// UpdateProfile applies changes to the local profile and queues the
// push. Zero-valued fields are left unchanged.
func (s *Service) UpdateProfile(ctx context.Context, update ProfileData) (*models.Profile, error) {
	var updated *models.Profile
	err := s.mutateProfile(ctx, func(p *models.Profile) {
		if update.DisplayName != "" {
			p.DisplayName = update.DisplayName
		}
		if update.CalorieGoal > 0 {
			p.CalorieGoal = update.CalorieGoal
		}
		if update.DietaryNotes != "" {
			p.DietaryNotes = update.DietaryNotes
		}
		p.Synced = false
		updated = p
	})
	if err != nil {
		return nil, err
	}

	req := &Request{Action: ActionUpdateProfile, Profile: &update}
	if _, err := s.mgr.Sync(ctx, models.DomainAuth, req); err != nil {
		return updated, err
	}
	return updated, nil
}

// ChangePassword queues a password rotation. The credentials ride in
// the queued payload because the drain may run much later.
func (s *Service) ChangePassword(ctx context.Context, current, newPassword string) error {
	if current == "" {
		return &models.ValidationError{Domain: models.DomainAuth, Field: "current_password", Reason: "required"}
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	req := &Request{Action: ActionChangePassword, Password: &PasswordData{Current: current, New: newPassword}}
	if _, err := s.mgr.Sync(ctx, models.DomainAuth, req); err != nil {
		return err
	}

	s.logger.Info("Password change queued")
	return nil
}

// Logout clears local authentication immediately and queues the
// server-side signout. The API token stays set in memory so the queued
// signout can still authenticate; it is dropped once the signout
// drains, or rejected with an already-invalid session, which counts as
// done.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := s.mgr.Sync(ctx, models.DomainAuth, &Request{Action: ActionLogout}); err != nil {
		s.logger.WithError(err).Warn("Failed to queue signout")
	}

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if err := s.tokens.Clear(); err != nil {
		return err
	}

	s.logger.Info("Logged out")
	return nil
}

// DeleteAccount queues account deletion and clears all local auth
// state. Unlike Logout, a failed enqueue aborts: silently keeping an
// account the user asked to delete is worse than an error.
func (s *Service) DeleteAccount(ctx context.Context) error {
	if _, err := s.mgr.Sync(ctx, models.DomainAuth, &Request{Action: ActionDeleteAccount}); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if err := s.tokens.Clear(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, profileKey); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("clear profile: %w", err)
	}

	s.logger.Info("Account deletion queued")
	return nil
}

// adoptSession installs a session everywhere: in memory, on the API
// client, and in the encrypted cache.
func (s *Service) adoptSession(info *models.TokenInfo) {
	s.mu.Lock()
	s.session = info
	s.mu.Unlock()

	s.api.SetToken(info.Token)
	if err := s.tokens.Save(info); err != nil {
		s.logger.WithError(err).Warn("Failed to cache token")
	}
}

// dropSession removes the session everywhere.
func (s *Service) dropSession() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	s.api.SetToken("")
	if err := s.tokens.Clear(); err != nil {
		s.logger.WithError(err).Warn("Failed to clear token cache")
	}
}

// refreshProfile pulls the server profile after login. Local unsynced
// edits win: only identity fields are merged then, because the queued
// update will push the rest.
func (s *Service) refreshProfile(ctx context.Context) {
	remoteProfile, err := s.api.FetchProfile(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Profile refresh failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadProfile(ctx)
	if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		s.logger.WithError(err).Warn("Profile cache unreadable, overwriting")
	}

	var profile *models.Profile
	if existing != nil && !existing.Synced {
		existing.UserID = remoteProfile.UserID
		existing.Email = remoteProfile.Email
		profile = existing
	} else {
		profile = &models.Profile{
			UserID:       remoteProfile.UserID,
			Email:        remoteProfile.Email,
			DisplayName:  remoteProfile.DisplayName,
			CalorieGoal:  remoteProfile.CalorieGoal,
			DietaryNotes: remoteProfile.DietaryNotes,
			Synced:       true,
		}
	}
	profile.UpdatedAt = time.Now().UTC()

	if err := s.saveProfile(ctx, profile); err != nil {
		s.logger.WithError(err).Warn("Failed to cache profile")
	}
}

// mutateProfile runs a read-modify-write on the cached profile under
// the service lock. A missing profile starts empty.
func (s *Service) mutateProfile(ctx context.Context, fn func(*models.Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.loadProfile(ctx)
	if errors.Is(err, store.ErrKeyNotFound) {
		profile = &models.Profile{}
	} else if err != nil {
		return err
	}

	fn(profile)
	profile.UpdatedAt = time.Now().UTC()
	return s.saveProfile(ctx, profile)
}

// loadProfile reads the profile cache. Callers hold s.mu.
func (s *Service) loadProfile(ctx context.Context) (*models.Profile, error) {
	data, err := s.store.Load(ctx, profileKey)
	if err != nil {
		return nil, err
	}

	var profile models.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile cache: %w", err)
	}
	return &profile, nil
}

func (s *Service) saveProfile(ctx context.Context, p *models.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.store.Save(ctx, profileKey, data); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// sessionToken converts a wire session into the stored token form,
// applying the default TTL when the server omitted expiry.
func sessionToken(sess *remote.Session, fallbackEmail string) *models.TokenInfo {
	expiresAt := sess.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultSessionTTL)
	}
	email := sess.Email
	if email == "" {
		email = fallbackEmail
	}
	return &models.TokenInfo{
		Token:     sess.Token,
		ExpiresAt: expiresAt,
		Email:     email,
		UserID:    sess.UserID,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return &models.ValidationError{Domain: models.DomainAuth, Field: "email", Reason: "invalid email address"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return &models.ValidationError{
			Domain: models.DomainAuth,
			Field:  "password",
			Reason: fmt.Sprintf("must be at least %d characters", minPasswordLen),
		}
	}
	return nil
}
