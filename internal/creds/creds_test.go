package creds

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
)

func newTestCache(t *testing.T) *TokenCache {
	t.Helper()
	dir := t.TempDir()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	return NewTokenCache(
		filepath.Join(dir, "token.enc"),
		filepath.Join(dir, "device.secret"),
		logger,
	)
}

func TestTokenCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	info := &models.TokenInfo{
		Token:     "tok-abc123",
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second),
		Email:     "dana@example.com",
		UserID:    "u-77",
	}
	require.NoError(t, cache.Save(info))

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, info.Token, loaded.Token)
	assert.Equal(t, info.Email, loaded.Email)
	assert.Equal(t, info.UserID, loaded.UserID)
	assert.True(t, info.ExpiresAt.Equal(loaded.ExpiresAt))
}

func TestTokenCacheMissing(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Load()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
}

func TestTokenCacheFilePermissions(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Save(&models.TokenInfo{Token: "t"}))

	fi, err := os.Stat(cache.tokenFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	fi, err = os.Stat(cache.secretFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestTokenCacheNotPlaintext(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Save(&models.TokenInfo{Token: "super-secret-token"}))

	raw, err := os.ReadFile(cache.tokenFile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")
}

func TestTokenCacheTamperDetected(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Save(&models.TokenInfo{Token: "tok"}))

	raw, err := os.ReadFile(cache.tokenFile)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	blob, err := base64.StdEncoding.DecodeString(env.Blob)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF
	env.Blob = base64.StdEncoding.EncodeToString(blob)

	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cache.tokenFile, tampered, 0600))

	_, err = cache.Load()
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTokenCacheUselessWithoutSecret(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Save(&models.TokenInfo{Token: "tok"}))

	// Losing the device secret regenerates it, which orphans the old
	// token file.
	require.NoError(t, os.Remove(cache.secretFile))

	_, err := cache.Load()
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTokenCacheClear(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Save(&models.TokenInfo{Token: "tok"}))

	require.NoError(t, cache.Clear())
	_, err := cache.Load()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)

	// Clearing twice is fine.
	require.NoError(t, cache.Clear())
}

func TestSealOpenRejectsShortBlob(t *testing.T) {
	key := make([]byte, keySize)
	_, err := open([]byte("short"), key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
