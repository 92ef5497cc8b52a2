package models

import (
	"strings"
	"time"
)

// MealScan is a locally stored meal analysis record. Scans are created
// offline with a placeholder ID; OnSuccess of the meal strategy swaps in
// the server-issued ID and marks the record synced.
type MealScan struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"server_id,omitempty"`
	Name      string    `json:"name"`
	Nutrition Nutrition `json:"nutrition"`
	PhotoPath string    `json:"photo_path,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Synced    bool      `json:"synced"`
}

// Nutrition holds the analyzed macronutrient profile for one meal.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein_g"`
	Carbs    float64 `json:"carbs_g"`
	Fat      float64 `json:"fat_g"`
}

// Placeholder reports whether the scan still carries a locally generated
// ID, i.e. the backend has not assigned one yet.
func (m *MealScan) Placeholder() bool {
	return strings.TrimSpace(m.ServerID) == ""
}
