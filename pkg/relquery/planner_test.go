package relquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()

	schema := NewSchema()
	err := schema.Register(Entity{
		Name:     "referral",
		Table:    "referrals",
		IDColumn: "id",
		Columns:  []string{"id", "branch_id", "status"},
		OrderBy:  []string{"referred_at DESC"},
		Relations: []Relation{
			{
				Name:       "referral_tests",
				Table:      "referral_tests",
				ForeignKey: "referral_id",
				Columns:    []string{"id", "test_id", "status"},
				Kind:       OneToMany,
			},
			{
				Name:          "tests",
				Table:         "tests",
				Kind:          ManyToMany,
				JoinTable:     "referral_tests",
				JoinLocalKey:  "referral_id",
				JoinRemoteKey: "test_id",
				ChildIDColumn: "id",
				Columns:       []string{"id", "name"},
			},
		},
	})
	require.NoError(t, err)
	return schema
}

func TestPlanUnknownEntity(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	_, err := planner.Plan(Request{Entity: "appointment"})
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestPlanInvalidRelationFailsBeforeAnyQuery(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	_, err := planner.Plan(Request{
		Entity:    "referral",
		Relations: []string{"referral_tests", "nope"},
	})
	require.ErrorIs(t, err, ErrInvalidRelation)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestPlanDeduplicatesRelations(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	plan, err := planner.Plan(Request{
		Entity:    "referral",
		Relations: []string{"referral_tests", "referral_tests", "referral_tests"},
	})
	require.NoError(t, err)
	assert.Len(t, plan.Relations, 1)
}

func TestPlanRelationStepsFollowDeclarationOrder(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	// requested in reverse of declaration order
	plan, err := planner.Plan(Request{
		Entity:    "referral",
		Relations: []string{"tests", "referral_tests"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Relations, 2)
	assert.Equal(t, "referral_tests", plan.Relations[0].Name)
	assert.Equal(t, "tests", plan.Relations[1].Name)
}

func TestPlanPrimarySQL(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	plan, err := planner.Plan(Request{
		Entity:  "referral",
		Filters: []Filter{{Column: "branch_id", Values: []any{int64(7)}}},
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)

	assert.Contains(t, plan.Primary.sql, "SELECT id, branch_id, status FROM referrals")
	assert.Contains(t, plan.Primary.sql, "branch_id = $")
	assert.Contains(t, plan.Primary.sql, "ORDER BY referred_at DESC")
	assert.Contains(t, plan.Primary.sql, "LIMIT")
	assert.Contains(t, plan.Primary.sql, "OFFSET")
	require.NotEmpty(t, plan.Primary.args)
	assert.Equal(t, int64(7), plan.Primary.args[0])
}

func TestPlanMultiValueFilterUsesIn(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	plan, err := planner.Plan(Request{
		Entity:  "referral",
		Filters: []Filter{{Column: "id", Values: []any{"AAAAAAAAAA", "BBBBBBBBBB"}}},
	})
	require.NoError(t, err)

	assert.Contains(t, plan.Primary.sql, "id IN (")
	assert.Equal(t, []any{"AAAAAAAAAA", "BBBBBBBBBB"}, plan.Primary.args)
}

func TestPlanEmptyFilterShortCircuits(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	plan, err := planner.Plan(Request{
		Entity:  "referral",
		Filters: []Filter{{Column: "id", Values: nil}},
	})
	require.NoError(t, err)
	assert.True(t, plan.emptyFilter)
}

func TestStepBuildSQLOneToMany(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	plan, err := planner.Plan(Request{Entity: "referral", Relations: []string{"referral_tests"}})
	require.NoError(t, err)
	require.Len(t, plan.Relations, 1)

	query, args := plan.Relations[0].buildSQL([]any{"AAAAAAAAAA", "BBBBBBBBBB"})
	assert.Contains(t, query, "referral_id AS __parent_key")
	assert.Contains(t, query, "FROM referral_tests")
	assert.Contains(t, query, "referral_id IN (")
	assert.Equal(t, []any{"AAAAAAAAAA", "BBBBBBBBBB"}, args)
}

func TestStepBuildSQLManyToMany(t *testing.T) {
	planner := NewPlanner(testSchema(t))

	plan, err := planner.Plan(Request{Entity: "referral", Relations: []string{"tests"}})
	require.NoError(t, err)
	require.Len(t, plan.Relations, 1)

	query, args := plan.Relations[0].buildSQL([]any{"AAAAAAAAAA"})
	assert.Contains(t, query, "tests.id, tests.name")
	assert.Contains(t, query, "referral_tests.referral_id AS __parent_key")
	assert.Contains(t, query, "JOIN tests ON tests.id = referral_tests.test_id")
	assert.Contains(t, query, "referral_tests.referral_id IN (")
	assert.Equal(t, []any{"AAAAAAAAAA"}, args)
}
