package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Max: time.Hour}

	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"first failure", 0, 30 * time.Second},
		{"second failure", 1, time.Minute},
		{"third failure", 2, 2 * time.Minute},
		{"capped at max", 10, time.Hour},
		{"huge count still capped", 40, time.Hour},
		{"negative count treated as zero", -1, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.retryCount))
		})
	}
}

func TestBackoffDisabled(t *testing.T) {
	b := Backoff{}
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Duration(0), b.Delay(5))
	assert.True(t, b.NextAttempt(time.Now(), 3).IsZero())
}

func TestBackoffNextAttempt(t *testing.T) {
	b := Backoff{Base: time.Minute, Max: time.Hour}
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Minute), b.NextAttempt(now, 0))
	assert.Equal(t, now.Add(4*time.Minute), b.NextAttempt(now, 2))
}
