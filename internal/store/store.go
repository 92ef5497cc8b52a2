package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Store persists client records keyed by name. Each key holds one
// JSON document; callers own the encoding of what goes inside.
type Store interface {
	// Load retrieves the record stored under key.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save persists data under key, replacing any previous record.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes the record for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all stored keys.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrKeyNotFound   = errors.New("record not found")
	ErrInvalidKey    = errors.New("invalid record key")
	ErrRecordCorrupt = errors.New("record is corrupt")
)

// record wraps stored data with integrity metadata.
type record struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Data          json.RawMessage `json:"data"`
	Checksum      string          `json:"checksum,omitempty"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// validKey rejects keys that would escape the store's namespace.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return key[0] != '.'
}
