package relquery

import (
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

// Filter constrains the primary entity selection to rows whose column value
// is in the given set. Multiple filters are combined with AND.
type Filter struct {
	Column string
	Values []any
}

// Request describes one fetch: which entity, which rows, which relations and
// the wall-clock budget. A zero Deadline falls back to the service default.
type Request struct {
	Entity    string
	Filters   []Filter
	Relations []string
	Limit     int
	Offset    int
	Deadline  time.Duration
}

// Step is a single fetch in a plan: one batched query, never one per row.
type Step struct {
	Name     string
	relation *Relation
	entity   *Entity

	// primary step only; built at plan time since the filter is known
	sql  string
	args []any
}

// Plan is the ordered sequence of fetch steps for one request: the primary
// step followed by one step per distinct requested relation.
type Plan struct {
	Entity    *Entity
	Primary   Step
	Relations []Step
	// emptyFilter is set when a filter has an empty value set, which can
	// never match. The executor short-circuits without any round trip.
	emptyFilter bool
}

// parentKeyColumn is the alias under which every relation step selects the
// owning parent's identifier, so assembly can group child rows uniformly.
const parentKeyColumn = "__parent_key"

const primaryStepName = "primary"

// Planner turns requests into query plans against a static schema.
type Planner struct {
	schema *Schema
}

func NewPlanner(schema *Schema) *Planner {
	return &Planner{schema: schema}
}

// Plan validates the request and builds its fetch steps. An undeclared
// relation name fails here, before any query executes. Duplicate relation
// names are collapsed; steps run in the entity's declaration order.
func (p *Planner) Plan(req Request) (*Plan, error) {
	entity, ok := p.schema.Entity(req.Entity)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, req.Entity)
	}

	requested := make(map[string]struct{}, len(req.Relations))
	for _, name := range req.Relations {
		if _, ok := entity.Relation(name); !ok {
			return nil, invalidRelation(entity.Name, name)
		}
		requested[name] = struct{}{}
	}

	plan := &Plan{Entity: entity}

	for _, filter := range req.Filters {
		if len(filter.Values) == 0 {
			plan.emptyFilter = true
		}
	}

	plan.Primary = Step{Name: primaryStepName, entity: entity}
	plan.Primary.sql, plan.Primary.args = buildPrimarySQL(entity, req)

	// one step per distinct relation, in declaration order
	for i := range entity.Relations {
		rel := &entity.Relations[i]
		if _, ok := requested[rel.Name]; !ok {
			continue
		}
		plan.Relations = append(plan.Relations, Step{Name: rel.Name, relation: rel, entity: entity})
	}

	return plan, nil
}

func buildPrimarySQL(entity *Entity, req Request) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()

	columns := entity.Columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	sb.Select(columns...)
	sb.From(entity.Table)

	for _, filter := range req.Filters {
		if len(filter.Values) == 1 {
			sb.Where(sb.Equal(filter.Column, filter.Values[0]))
		} else if len(filter.Values) > 1 {
			sb.Where(sb.In(filter.Column, filter.Values...))
		}
	}

	if len(entity.OrderBy) > 0 {
		sb.OrderBy(entity.OrderBy...)
	}
	if req.Limit > 0 {
		sb.Limit(req.Limit)
	}
	if req.Offset > 0 {
		sb.Offset(req.Offset)
	}

	return sb.Build()
}

// buildSQL renders a relation step once the parent identifiers are known.
// Always a single IN (...) query for the whole batch.
func (s *Step) buildSQL(parentIDs []any) (string, []any) {
	rel := s.relation
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()

	columns := rel.Columns
	if len(columns) == 0 {
		columns = []string{rel.Table + ".*"}
	}

	switch rel.Kind {
	case ManyToMany:
		selected := make([]string, 0, len(columns)+1)
		for _, col := range columns {
			selected = append(selected, rel.Table+"."+col)
		}
		selected = append(selected, fmt.Sprintf("%s.%s AS %s", rel.JoinTable, rel.JoinLocalKey, parentKeyColumn))
		sb.Select(selected...)
		sb.From(rel.JoinTable)
		sb.Join(rel.Table, fmt.Sprintf("%s.%s = %s.%s", rel.Table, rel.ChildIDColumn, rel.JoinTable, rel.JoinRemoteKey))
		sb.Where(sb.In(rel.JoinTable+"."+rel.JoinLocalKey, parentIDs...))
	default:
		selected := make([]string, 0, len(columns)+1)
		selected = append(selected, columns...)
		selected = append(selected, fmt.Sprintf("%s AS %s", rel.ForeignKey, parentKeyColumn))
		sb.Select(selected...)
		sb.From(rel.Table)
		sb.Where(sb.In(rel.ForeignKey, parentIDs...))
	}

	if len(rel.OrderBy) > 0 {
		sb.OrderBy(rel.OrderBy...)
	}

	return sb.Build()
}
