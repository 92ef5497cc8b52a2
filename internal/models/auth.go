package models

import "time"

// TokenInfo stores authentication details.
type TokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Email     string    `json:"email"`
	UserID    string    `json:"user_id,omitempty"`
}

// IsExpired checks if the token has expired.
func (t *TokenInfo) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Profile is the locally cached account profile. It follows the
// two-phase write pattern: local edits succeed immediately and Synced
// flips once the backend has confirmed them.
type Profile struct {
	UserID       string    `json:"user_id,omitempty"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	CalorieGoal  int       `json:"calorie_goal,omitempty"` // Daily target, kcal
	DietaryNotes string    `json:"dietary_notes,omitempty"`
	Synced       bool      `json:"synced"`
	UpdatedAt    time.Time `json:"updated_at"`
}
