package models_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platewise/mealsync/internal/models"
)

func TestAPIError(t *testing.T) {
	err := &models.APIError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid token",
		StatusCode: 401,
		RequestID:  "req-123",
	}

	want := "API error 401 (UNAUTHORIZED): Invalid token"
	assert.Equal(t, want, err.Error())
}

func TestAPIError_Retryable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "timeout", status: 408, want: true},
		{name: "rate limited", status: 429, want: true},
		{name: "bad gateway", status: 502, want: true},
		{name: "internal error", status: 500, want: true},
		{name: "unauthorized", status: 401, want: false},
		{name: "conflict", status: 409, want: false},
		{name: "bad request", status: 400, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &models.APIError{StatusCode: tt.status}
			assert.Equal(t, tt.want, err.Retryable())
		})
	}
}

func TestAPIError_Conflict(t *testing.T) {
	assert.True(t, (&models.APIError{StatusCode: 409}).Conflict())
	assert.True(t, (&models.APIError{StatusCode: 400, Code: models.ErrCodeConflict}).Conflict())
	assert.False(t, (&models.APIError{StatusCode: 500}).Conflict())
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *models.ValidationError
		want string
	}{
		{
			name: "with field",
			err: &models.ValidationError{
				Domain: models.DomainAuth,
				Field:  "email",
				Reason: "must not be empty",
			},
			want: "validate auth payload: email: must not be empty",
		},
		{
			name: "without field",
			err: &models.ValidationError{
				Domain: models.DomainMeal,
				Reason: "unknown action",
			},
			want: "validate meal payload: unknown action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSyncError(t *testing.T) {
	base := errors.New("connection timeout")

	err := &models.SyncError{
		PayloadID: "meal_1700000000000_a1b2c3d4",
		Domain:    models.DomainMeal,
		Attempt:   2,
		Err:       base,
	}

	want := "sync meal_1700000000000_a1b2c3d4 [meal attempt 2]: connection timeout"
	assert.Equal(t, want, err.Error())
	assert.Equal(t, base, errors.Unwrap(err))
}
