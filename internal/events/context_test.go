package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platewise/mealsync/internal/events"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return default logger when none in context
	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := &events.Logger{}

	ctx = events.WithLogger(ctx, logger)
	retrieved := events.FromContext(ctx)

	assert.Equal(t, logger, retrieved)
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "req-123"

	ctx = events.WithRequestID(ctx, requestID)
	retrieved := events.GetRequestID(ctx)

	assert.Equal(t, requestID, retrieved)

	// Should also add to logger fields
	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithDomain(t *testing.T) {
	ctx := context.Background()

	ctx = events.WithDomain(ctx, "meal")
	assert.Equal(t, "meal", events.GetDomain(ctx))

	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithPayloadID(t *testing.T) {
	ctx := context.Background()

	ctx = events.WithPayloadID(ctx, "meal_1700000000000_a1b2")
	assert.Equal(t, "meal_1700000000000_a1b2", events.GetPayloadID(ctx))
}

func TestGetRequestIDEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetRequestID(ctx))
	assert.Empty(t, events.GetDomain(ctx))
	assert.Empty(t, events.GetPayloadID(ctx))
}
