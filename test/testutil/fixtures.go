package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
)

// NewTestLogger creates a quiet logger for tests.
func NewTestLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

// SampleNutrition returns macros for a typical scanned plate.
func SampleNutrition() models.Nutrition {
	return models.Nutrition{
		Calories: 420,
		Protein:  32,
		Carbs:    38,
		Fat:      14,
	}
}

// SampleMenuItems returns a small cafeteria menu for one day.
func SampleMenuItems() []models.MenuItem {
	return []models.MenuItem{
		{ID: "dish-oatmeal", Name: "Steel-Cut Oatmeal", Price: 3.50, Calories: 280, Tags: []string{"breakfast", "vegan"}},
		{ID: "dish-salmon", Name: "Grilled Salmon Bowl", Price: 11.25, Calories: 520},
		{ID: "dish-kale", Name: "Kale Caesar", Price: 7.00, Calories: 340, Tags: []string{"salad"}},
	}
}

// SampleMenu wraps SampleMenuItems into a cached menu document.
func SampleMenu(date string) *models.Menu {
	return &models.Menu{
		Date:      date,
		Items:     SampleMenuItems(),
		FetchedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

// TinyJPEG returns a minimal JPEG byte stream: SOI marker, a stub
// JFIF header, and EOI. Upload paths only read and encode the bytes,
// so nothing ever decodes it.
func TinyJPEG() []byte {
	return []byte{
		0xFF, 0xD8, // SOI
		0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
		0xFF, 0xD9, // EOI
	}
}

// WritePhotoFile drops TinyJPEG into dir and returns its path.
func WritePhotoFile(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "meal.jpg")
	require.NoError(t, os.WriteFile(path, TinyJPEG(), 0644))
	return path
}
