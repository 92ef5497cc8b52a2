package auth

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/mealsync/internal/creds"
	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
	"github.com/platewise/mealsync/internal/netwatch"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/remote"
	syncsvc "github.com/platewise/mealsync/internal/services/sync"
	"github.com/platewise/mealsync/internal/store"
)

type fixture struct {
	api     *remote.Mock
	store   *store.MockStore
	tokens  *creds.TokenCache
	manager *syncsvc.Manager
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	st := store.NewMockStore()
	q := queue.New(st, logger)
	require.NoError(t, q.Initialize(context.Background()))

	mgr := syncsvc.New(q, netwatch.NewManual(true), logger, syncsvc.WithBackoff(syncsvc.Backoff{}))
	t.Cleanup(func() { _ = mgr.Close() })

	dir := t.TempDir()
	tokens := creds.NewTokenCache(
		filepath.Join(dir, "token.enc"),
		filepath.Join(dir, "device.secret"),
		logger,
	)

	api := remote.NewMock()
	svc := NewService(api, tokens, st, mgr, logger)
	mgr.RegisterStrategy(svc.Strategy())

	return &fixture{api: api, store: st, tokens: tokens, manager: mgr, svc: svc}
}

func (fx *fixture) drain(t *testing.T) *models.DrainResult {
	t.Helper()
	result, err := fx.manager.SyncAll(context.Background())
	require.NoError(t, err)
	return result
}

func TestRegisterOfflineFirst(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	profile, err := fx.svc.Register(ctx, "Ada@Example.com", "hunter2hunter2", "Ada")
	require.NoError(t, err)
	require.NotNil(t, profile)

	// Local commit happened, nothing hit the network.
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.False(t, profile.Synced)
	assert.Equal(t, 0, fx.api.CallCount("Register"))
	assert.Equal(t, 1, fx.manager.PendingCount(models.DomainAuth))

	result := fx.drain(t)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, fx.api.CallCount("Register"))

	synced, err := fx.svc.Profile(ctx)
	require.NoError(t, err)
	assert.True(t, synced.Synced)
	assert.NotEmpty(t, synced.UserID)

	// The session from registration was adopted.
	info, err := fx.svc.Session()
	require.NoError(t, err)
	assert.Equal(t, info.Token, fx.api.Token())

	t.Run("invalid input rejected before enqueue", func(t *testing.T) {
		_, err := fx.svc.Register(ctx, "not-an-email", "hunter2hunter2", "")
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "email", vErr.Field)

		_, err = fx.svc.Register(ctx, "ok@example.com", "short", "")
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "password", vErr.Field)
	})
}

func TestRegisterConflictFallsBackToLogin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Register(ctx, "dup@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	fx.api.Fail("Register", &models.APIError{StatusCode: 409, Code: models.ErrCodeConflict, Message: "email exists"})

	result := fx.drain(t)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, fx.api.CallCount("Login"))
	assert.Equal(t, 0, fx.manager.PendingCount(models.DomainAuth))

	_, err = fx.svc.Session()
	assert.NoError(t, err)
}

func TestRegisterRetriesOnServerError(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Register(ctx, "retry@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	fx.api.Fail("Register", &models.APIError{StatusCode: 503, Message: "maintenance"})

	result := fx.drain(t)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, fx.manager.PendingCount(models.DomainAuth))

	fx.api.Fail("Register", nil)

	result = fx.drain(t)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, fx.manager.PendingCount(models.DomainAuth))
}

func TestLogin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.api.Profile = &remote.AccountProfile{
		UserID:      "user-77",
		Email:       "ada@example.com",
		DisplayName: "Ada",
		CalorieGoal: 2100,
	}

	info, err := fx.svc.Login(ctx, "ada@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, info.Token)
	assert.Equal(t, info.Token, fx.api.Token())

	// The profile cache was refreshed from the server.
	profile, err := fx.svc.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-77", profile.UserID)
	assert.Equal(t, 2100, profile.CalorieGoal)
	assert.True(t, profile.Synced)

	// The token survives a fresh service instance.
	again := NewService(fx.api, fx.tokens, fx.store, fx.manager, events.NewTestLogger(events.ErrorLevel, "text", io.Discard))
	restored, err := again.Session()
	require.NoError(t, err)
	assert.Equal(t, info.Token, restored.Token)

	t.Run("bad credentials surface the API error", func(t *testing.T) {
		fx.api.Fail("Login", &models.APIError{StatusCode: 401, Code: models.ErrCodeAuth, Message: "bad credentials"})
		_, err := fx.svc.Login(ctx, "ada@example.com", "wrong-password")
		var apiErr *models.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 401, apiErr.StatusCode)
	})
}

func TestLoginKeepsUnsyncedProfileEdits(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.UpdateProfile(ctx, ProfileData{DisplayName: "Offline Edit", CalorieGoal: 1800})
	require.NoError(t, err)

	fx.api.Profile = &remote.AccountProfile{UserID: "user-9", Email: "ada@example.com", DisplayName: "Server Name"}

	_, err = fx.svc.Login(ctx, "ada@example.com", "hunter2hunter2")
	require.NoError(t, err)

	profile, err := fx.svc.Profile(ctx)
	require.NoError(t, err)
	// Identity comes from the server, pending edits stay local until
	// the queued update drains.
	assert.Equal(t, "user-9", profile.UserID)
	assert.Equal(t, "Offline Edit", profile.DisplayName)
	assert.False(t, profile.Synced)
}

func TestSession(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Session()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)

	t.Run("expired token is not a session", func(t *testing.T) {
		require.NoError(t, fx.tokens.Save(&models.TokenInfo{
			Token:     "stale",
			ExpiresAt: time.Now().Add(-time.Minute),
			Email:     "ada@example.com",
		}))
		_, err := fx.svc.Session()
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})
}

func TestEnsureSession(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh token is left alone", func(t *testing.T) {
		fx := newFixture(t)
		require.NoError(t, fx.tokens.Save(&models.TokenInfo{
			Token:     "fresh",
			ExpiresAt: time.Now().Add(time.Hour),
			Email:     "ada@example.com",
		}))
		require.NoError(t, fx.svc.EnsureSession(ctx))
		assert.Equal(t, 0, fx.api.CallCount("Refresh"))
	})

	t.Run("expiring token is renewed", func(t *testing.T) {
		fx := newFixture(t)
		require.NoError(t, fx.tokens.Save(&models.TokenInfo{
			Token:     "expiring",
			ExpiresAt: time.Now().Add(time.Minute),
			Email:     "ada@example.com",
			UserID:    "user-4",
		}))

		require.NoError(t, fx.svc.EnsureSession(ctx))
		assert.Equal(t, 1, fx.api.CallCount("Refresh"))

		info, err := fx.svc.Session()
		require.NoError(t, err)
		assert.NotEqual(t, "expiring", info.Token)
		assert.Equal(t, "user-4", info.UserID)
	})

	t.Run("failed renewal keeps the valid token", func(t *testing.T) {
		fx := newFixture(t)
		require.NoError(t, fx.tokens.Save(&models.TokenInfo{
			Token:     "expiring",
			ExpiresAt: time.Now().Add(time.Minute),
			Email:     "ada@example.com",
		}))
		fx.api.Fail("Refresh", &models.APIError{StatusCode: 503})

		require.NoError(t, fx.svc.EnsureSession(ctx))

		info, err := fx.svc.Session()
		require.NoError(t, err)
		assert.Equal(t, "expiring", info.Token)
	})

	t.Run("no session is an error", func(t *testing.T) {
		fx := newFixture(t)
		err := fx.svc.EnsureSession(ctx)
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})
}

func TestUpdateProfile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	profile, err := fx.svc.UpdateProfile(ctx, ProfileData{DisplayName: "Ada", CalorieGoal: 1900})
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.DisplayName)
	assert.False(t, profile.Synced)

	result := fx.drain(t)
	require.Equal(t, 1, result.Processed)
	require.Len(t, fx.api.ProfileUpdates, 1)
	assert.Equal(t, "Ada", fx.api.ProfileUpdates[0].DisplayName)
	assert.Equal(t, 1900, fx.api.ProfileUpdates[0].CalorieGoal)

	synced, err := fx.svc.Profile(ctx)
	require.NoError(t, err)
	assert.True(t, synced.Synced)

	t.Run("zero fields leave existing values", func(t *testing.T) {
		updated, err := fx.svc.UpdateProfile(ctx, ProfileData{DietaryNotes: "no peanuts"})
		require.NoError(t, err)
		assert.Equal(t, "Ada", updated.DisplayName)
		assert.Equal(t, 1900, updated.CalorieGoal)
		assert.Equal(t, "no peanuts", updated.DietaryNotes)
	})
}

func TestChangePassword(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	err := fx.svc.ChangePassword(ctx, "", "newpassword1")
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)

	err = fx.svc.ChangePassword(ctx, "oldpassword1", "short")
	require.ErrorAs(t, err, &vErr)

	require.NoError(t, fx.svc.ChangePassword(ctx, "oldpassword1", "newpassword1"))

	result := fx.drain(t)
	require.Equal(t, 1, result.Processed)
	require.Len(t, fx.api.PasswordChanges, 1)
	assert.Equal(t, "oldpassword1", fx.api.PasswordChanges[0].CurrentPassword)
	assert.Equal(t, "newpassword1", fx.api.PasswordChanges[0].NewPassword)
}

func TestLogout(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Login(ctx, "ada@example.com", "hunter2hunter2")
	require.NoError(t, err)

	require.NoError(t, fx.svc.Logout(ctx))

	// Locally signed out right away.
	_, err = fx.svc.Session()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)

	// The queued signout still authenticates, then drops the token.
	assert.NotEmpty(t, fx.api.Token())
	result := fx.drain(t)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, fx.api.CallCount("Logout"))
	assert.Empty(t, fx.api.Token())

	t.Run("server-side session already gone counts as done", func(t *testing.T) {
		fx := newFixture(t)
		_, err := fx.svc.Login(ctx, "ada@example.com", "hunter2hunter2")
		require.NoError(t, err)

		fx.api.Fail("Logout", &models.APIError{StatusCode: 401, Code: models.ErrCodeAuth})
		require.NoError(t, fx.svc.Logout(ctx))

		result := fx.drain(t)
		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, 0, result.Failed)
		assert.Equal(t, 0, fx.manager.PendingCount(models.DomainAuth))
	})
}

func TestDeleteAccount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Login(ctx, "ada@example.com", "hunter2hunter2")
	require.NoError(t, err)

	require.NoError(t, fx.svc.DeleteAccount(ctx))

	_, err = fx.svc.Session()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	_, err = fx.svc.Profile(ctx)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	result := fx.drain(t)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, fx.api.CallCount("DeleteAccount"))
}

func TestStrategyValidate(t *testing.T) {
	fx := newFixture(t)
	strat := fx.svc.Strategy()

	tests := []struct {
		name string
		data interface{}
		ok   bool
	}{
		{"wrong type", "nope", false},
		{"unknown action", &Request{Action: Action("mystery")}, false},
		{"register without body", &Request{Action: ActionRegister}, false},
		{"register bad email", &Request{Action: ActionRegister, Register: &RegisterData{Email: "x", Password: "hunter2hunter2"}}, false},
		{"register ok", &Request{Action: ActionRegister, Register: &RegisterData{Email: "a@b.c", Password: "hunter2hunter2"}}, true},
		{"profile without body", &Request{Action: ActionUpdateProfile}, false},
		{"password too short", &Request{Action: ActionChangePassword, Password: &PasswordData{Current: "x", New: "short"}}, false},
		{"logout", &Request{Action: ActionLogout}, true},
		{"delete account", &Request{Action: ActionDeleteAccount}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := strat.Validate(tt.data)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				var vErr *models.ValidationError
				assert.ErrorAs(t, err, &vErr)
			}
		})
	}
}

func TestStrategyUploadUnknownAction(t *testing.T) {
	fx := newFixture(t)
	strat := fx.svc.Strategy()

	p := models.NewSyncPayload(models.DomainAuth, []byte(`{"action":"mystery"}`), 1, 5)
	_, err := strat.Upload(context.Background(), p)
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrNotAuthenticated))
}
