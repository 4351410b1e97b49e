package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestStatusValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusReceived.Valid())
	assert.True(t, StatusCompleted.Valid())

	assert.False(t, TestStatus("").Valid())
	assert.False(t, TestStatus("pending").Valid())
	assert.False(t, TestStatus("Cancelled").Valid())
}

func TestReferralTurnaroundHours(t *testing.T) {
	referredAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	pending := Referral{ReferredAt: referredAt, Status: StatusPending}
	assert.Nil(t, pending.TurnaroundHours())

	completedAt := referredAt.Add(36 * time.Hour)
	completed := Referral{
		ReferredAt:  referredAt,
		Status:      StatusCompleted,
		CompletedAt: &completedAt,
	}

	hours := completed.TurnaroundHours()
	require.NotNil(t, hours)
	assert.InDelta(t, 36.0, *hours, 0.001)
}

func TestReferralTestTurnaroundHours(t *testing.T) {
	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	pending := ReferralTest{CreatedAt: createdAt, Status: StatusPending}
	assert.Nil(t, pending.TurnaroundHours())

	completedAt := createdAt.Add(90 * time.Minute)
	completed := ReferralTest{
		CreatedAt:   createdAt,
		Status:      StatusCompleted,
		CompletedAt: &completedAt,
	}

	hours := completed.TurnaroundHours()
	require.NotNil(t, hours)
	assert.InDelta(t, 1.5, *hours, 0.001)
}
