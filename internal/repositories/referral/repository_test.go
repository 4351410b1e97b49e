package referral

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetradx/tetradx/pkg/models"
	"github.com/tetradx/tetradx/pkg/relquery"
)

func TestGenerateID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := GenerateID()
		require.NoError(t, err)
		require.Len(t, id, idLength)
		for _, r := range id {
			assert.True(t, strings.ContainsRune(idCharset, r), "unexpected character %q in %s", r, id)
		}
		seen[id] = struct{}{}
	}
	// 36^10 possible codes; a thousand draws should not collide
	assert.Len(t, seen, 1000)
}

func TestEntityDeclaration(t *testing.T) {
	schema := relquery.NewSchema()
	require.NoError(t, schema.Register(Entity()))

	entity, ok := schema.Entity("referral")
	require.True(t, ok)
	assert.Equal(t, "referrals", entity.Table)
	assert.Equal(t, "id", entity.IDColumn)

	tests, ok := entity.Relation("tests")
	require.True(t, ok)
	assert.Equal(t, relquery.ManyToMany, tests.Kind)
	assert.Equal(t, "referral_tests", tests.JoinTable)

	referralTests, ok := entity.Relation("referral_tests")
	require.True(t, ok)
	assert.Equal(t, relquery.OneToMany, referralTests.Kind)
	assert.Equal(t, "referral_id", referralTests.ForeignKey)
}

func TestToReferral(t *testing.T) {
	referredAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	completedAt := referredAt.Add(24 * time.Hour)

	row := relquery.Row{
		"id":             "AB12CD34EF",
		"branch_id":      int64(3),
		"patient_id":     int64(9),
		"clinical_notes": "fasting sample",
		"referred_by_id": "doc-1",
		"status":         "Completed",
		"referred_at":    referredAt,
		"updated_at":     completedAt,
		"completed_at":   completedAt,
	}

	referral, err := toReferral(row)
	require.NoError(t, err)

	assert.Equal(t, "AB12CD34EF", referral.ID)
	assert.Equal(t, int64(3), referral.BranchID)
	assert.Equal(t, int64(9), referral.PatientID)
	assert.Equal(t, models.StatusCompleted, referral.Status)
	require.NotNil(t, referral.CompletedAt)
	assert.True(t, referral.CompletedAt.Equal(completedAt))

	hours := referral.TurnaroundHours()
	require.NotNil(t, hours)
	assert.InDelta(t, 24.0, *hours, 0.001)
}

func TestToReferralNullCompletedAt(t *testing.T) {
	row := relquery.Row{
		"id":             "AB12CD34EF",
		"branch_id":      int64(3),
		"patient_id":     int64(9),
		"clinical_notes": "",
		"referred_by_id": "doc-1",
		"status":         "Pending",
		"referred_at":    time.Now(),
		"updated_at":     time.Now(),
		"completed_at":   nil,
	}

	referral, err := toReferral(row)
	require.NoError(t, err)
	assert.Nil(t, referral.CompletedAt)
	assert.Nil(t, referral.TurnaroundHours())
}

func TestToReferralRejectsBadTypes(t *testing.T) {
	row := relquery.Row{
		"id":          "AB12CD34EF",
		"branch_id":   "three",
		"patient_id":  int64(9),
		"status":      "Pending",
		"referred_at": time.Now(),
		"updated_at":  time.Now(),
	}

	_, err := toReferral(row)
	assert.Error(t, err)
}

func TestToReferralTest(t *testing.T) {
	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	row := relquery.Row{
		"id":           int64(7),
		"referral_id":  "AB12CD34EF",
		"test_id":      int64(42),
		"status":       "Received",
		"created_at":   createdAt,
		"updated_at":   createdAt,
		"completed_at": nil,
	}

	test, err := toReferralTest(row)
	require.NoError(t, err)

	assert.Equal(t, int64(7), test.ID)
	assert.Equal(t, "AB12CD34EF", test.ReferralID)
	assert.Equal(t, int64(42), test.TestID)
	assert.Equal(t, models.StatusReceived, test.Status)
	assert.Nil(t, test.CompletedAt)
}
