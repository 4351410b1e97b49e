package relquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegisterValidation(t *testing.T) {
	t.Run("MissingIDColumn", func(t *testing.T) {
		schema := NewSchema()
		err := schema.Register(Entity{Name: "facility", Table: "facilities"})
		assert.Error(t, err)
	})

	t.Run("DuplicateEntity", func(t *testing.T) {
		schema := NewSchema()
		entity := Entity{Name: "facility", Table: "facilities", IDColumn: "id"}
		require.NoError(t, schema.Register(entity))
		assert.Error(t, schema.Register(entity))
	})

	t.Run("DuplicateRelation", func(t *testing.T) {
		schema := NewSchema()
		err := schema.Register(Entity{
			Name:     "facility",
			Table:    "facilities",
			IDColumn: "id",
			Relations: []Relation{
				{Name: "branches", Table: "facility_branches", ForeignKey: "facility_id", Kind: OneToMany},
				{Name: "branches", Table: "facility_branches", ForeignKey: "facility_id", Kind: OneToMany},
			},
		})
		assert.Error(t, err)
	})

	t.Run("OneToManyNeedsForeignKey", func(t *testing.T) {
		schema := NewSchema()
		err := schema.Register(Entity{
			Name:     "facility",
			Table:    "facilities",
			IDColumn: "id",
			Relations: []Relation{
				{Name: "branches", Table: "facility_branches", Kind: OneToMany},
			},
		})
		assert.Error(t, err)
	})

	t.Run("ManyToManyNeedsJoinKeys", func(t *testing.T) {
		schema := NewSchema()
		err := schema.Register(Entity{
			Name:     "referral",
			Table:    "referrals",
			IDColumn: "id",
			Relations: []Relation{
				{Name: "tests", Table: "tests", Kind: ManyToMany, JoinTable: "referral_tests"},
			},
		})
		assert.Error(t, err)
	})
}

func TestSchemaEntityLookup(t *testing.T) {
	schema := testSchema(t)

	entity, ok := schema.Entity("referral")
	require.True(t, ok)
	assert.Equal(t, "referrals", entity.Table)

	_, ok = schema.Entity("appointment")
	assert.False(t, ok)

	rel, ok := entity.Relation("referral_tests")
	require.True(t, ok)
	assert.Equal(t, OneToMany, rel.Kind)

	_, ok = entity.Relation("nope")
	assert.False(t, ok)
}
