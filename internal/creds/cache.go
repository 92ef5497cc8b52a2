// Package creds stores the session token encrypted at rest. The AES
// key is derived from a per-device secret with scrypt, so a copied
// token file is useless without the secret file that lives beside it.
package creds

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	cryptorand "crypto/rand"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
)

const envelopeVersion = 1

// envelope is the on-disk format of the encrypted token file.
type envelope struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"` // base64
	Blob    string `json:"blob"` // base64, nonce || ciphertext
}

// TokenCache persists one session token.
type TokenCache struct {
	tokenFile  string
	secretFile string
	logger     *events.Logger
}

// NewTokenCache builds a cache over the given file paths.
func NewTokenCache(tokenFile, secretFile string, logger *events.Logger) *TokenCache {
	return &TokenCache{
		tokenFile:  tokenFile,
		secretFile: secretFile,
		logger:     logger.WithField("component", "token_cache"),
	}
}

// Save encrypts and writes the token with owner-only permissions. A
// fresh salt is drawn per save.
func (c *TokenCache) Save(info *models.TokenInfo) error {
	secret, err := c.deviceSecret()
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(cryptorand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(secret, salt)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	blob, err := seal(plaintext, key)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	data, err := json.Marshal(envelope{
		Version: envelopeVersion,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Blob:    base64.StdEncoding.EncodeToString(blob),
	})
	if err != nil {
		return fmt.Errorf("marshal token envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.tokenFile), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(c.tokenFile, data, 0600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}

	c.logger.Debug("Token cached")
	return nil
}

// Load decrypts the cached token. Returns models.ErrNotAuthenticated
// when no token has been saved.
func (c *TokenCache) Load() (*models.TokenInfo, error) {
	data, err := os.ReadFile(c.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse token envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported token cache version: %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(env.Blob)
	if err != nil {
		return nil, fmt.Errorf("decode token blob: %w", err)
	}

	secret, err := c.deviceSecret()
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := open(blob, key)
	if err != nil {
		return nil, fmt.Errorf("decrypt token cache: %w", err)
	}

	var info models.TokenInfo
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &info, nil
}

// Clear removes the cached token. A missing file is not an error.
func (c *TokenCache) Clear() error {
	if err := os.Remove(c.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token cache: %w", err)
	}
	return nil
}

// deviceSecret loads the per-device secret, minting one on first use.
func (c *TokenCache) deviceSecret() ([]byte, error) {
	data, err := os.ReadFile(c.secretFile)
	if err == nil {
		decoded, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil || len(decoded) != keySize {
			return nil, fmt.Errorf("device secret file %s is malformed", c.secretFile)
		}
		return decoded, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read device secret: %w", err)
	}

	secret := make([]byte, keySize)
	if _, err := io.ReadFull(cryptorand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generate device secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.secretFile), 0700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(c.secretFile, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("write device secret: %w", err)
	}

	c.logger.WithField("path", c.secretFile).Debug("Generated device secret")
	return secret, nil
}
