package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/platewise/mealsync/internal/events"
)

// JSONStore implements file-based record storage. Each key maps to
// one JSON file written atomically, with a backup kept across
// overwrites for corruption recovery.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based record store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_store"),
	}, nil
}

// Load reads a record from its JSON file.
func (s *JSONStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.recordPath(key)

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"path": path,
	}).Debug("Loading record")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		if data, err := s.loadBackup(key); err == nil {
			s.logger.WithField("key", key).Warn("Loaded record from backup due to corruption")
			return data, nil
		}
		return nil, ErrRecordCorrupt
	}

	if rec.Checksum != "" {
		if calculated := checksumRecord(rec); calculated != rec.Checksum {
			s.logger.WithFields(map[string]interface{}{
				"key":      key,
				"expected": rec.Checksum,
				"actual":   calculated,
			}).Error("Record checksum mismatch")

			if data, err := s.loadBackup(key); err == nil {
				return data, nil
			}
			return nil, ErrRecordCorrupt
		}
	}

	if rec.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", rec.SchemaVersion).Warn("Record schema version mismatch")
	}

	return rec.Data, nil
}

// Save writes a record to its JSON file atomically.
func (s *JSONStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(key)

	s.logger.WithFields(map[string]interface{}{
		"key":   key,
		"bytes": len(data),
	}).Debug("Saving record")

	rec := record{
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       time.Now().UTC(),
		Data:          json.RawMessage(data),
	}
	rec.Checksum = checksumRecord(rec)

	jsonData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	// Keep the previous version around for recovery.
	if _, err := os.Stat(path); err == nil {
		if err := s.copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename record file: %w", err)
	}

	return nil
}

// Delete removes a record and its backup.
func (s *JSONStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("key", key).Info("Deleting record")

	path := s.recordPath(key)
	_ = os.Remove(path)
	_ = os.Remove(path + ".backup")

	return nil
}

// Keys returns all stored keys.
func (s *JSONStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".json" && !strings.HasSuffix(name, ".backup") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}

	return keys, nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// Helper methods

func (s *JSONStore) recordPath(key string) string {
	return filepath.Join(s.baseDir, key+".json")
}

func (s *JSONStore) loadBackup(key string) ([]byte, error) {
	raw, err := os.ReadFile(s.recordPath(key) + ".backup")
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}

	return rec.Data, nil
}

func (s *JSONStore) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// checksumRecord hashes the record with its checksum field cleared.
func checksumRecord(rec record) string {
	rec.Checksum = ""
	data, _ := json.Marshal(rec)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
