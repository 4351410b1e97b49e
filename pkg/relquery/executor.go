package relquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/tetradx/tetradx/pkg/tracing"
)

// Row is one fetched database row.
type Row map[string]any

// Record is a primary row with its requested relations populated. Every
// requested relation is present, as an empty slice when there are no
// children.
type Record struct {
	ID        any
	Columns   Row
	Relations map[string][]Row
}

// MarshalJSON renders a record as its columns merged with its relation
// collections, so callers can serialize assembled results directly.
func (r Record) MarshalJSON() ([]byte, error) {
	merged := make(map[string]any, len(r.Columns)+len(r.Relations))
	for key, value := range r.Columns {
		merged[key] = value
	}
	for name, rows := range r.Relations {
		merged[name] = rows
	}
	return json.Marshal(merged)
}

// Result is the assembled output of one fetch, discarded after serialization.
type Result struct {
	Entity     string
	Records    []Record
	RoundTrips int
	Elapsed    time.Duration
}

// Executor runs a plan's steps in sequence over one acquired connection and
// joins the fetched rows in memory by foreign key.
type Executor struct {
	logger ectologger.Logger
}

func NewExecutor(logger ectologger.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs the plan. Total round trips are 1 + the number of relation
// steps, independent of row count; zero primary rows short-circuit the
// relation steps entirely.
func (e *Executor) Execute(ctx context.Context, q Querier, plan *Plan) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "relquery.Executor.Execute")
	defer span.End()

	result := &Result{Entity: plan.Entity.Name}

	// a filter with an empty value set can never match
	if plan.emptyFilter {
		result.Records = []Record{}
		return result, nil
	}

	rows, err := e.runStep(ctx, q, plan.Primary.sql, plan.Primary.args)
	result.RoundTrips++
	if err != nil {
		return nil, &FetchError{Step: plan.Primary.Name, Err: err}
	}

	records := make([]Record, 0, len(rows))
	parentIDs := make([]any, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		id := row[plan.Entity.IDColumn]
		record := Record{ID: id, Columns: row, Relations: make(map[string][]Row, len(plan.Relations))}
		for _, step := range plan.Relations {
			record.Relations[step.Name] = []Row{}
		}
		index[groupKey(id)] = len(records)
		records = append(records, record)
		parentIDs = append(parentIDs, id)
	}
	result.Records = records

	if len(records) == 0 {
		return result, nil
	}

	for _, step := range plan.Relations {
		query, args := step.buildSQL(parentIDs)
		childRows, err := e.runStep(ctx, q, query, args)
		result.RoundTrips++
		if err != nil {
			return nil, &FetchError{Step: step.Name, Err: err}
		}

		for _, child := range childRows {
			key := groupKey(child[parentKeyColumn])
			delete(child, parentKeyColumn)
			parent, ok := index[key]
			if !ok {
				continue
			}
			records[parent].Relations[step.Name] = append(records[parent].Relations[step.Name], child)
		}
	}

	return result, nil
}

func (e *Executor) runStep(ctx context.Context, q Querier, query string, args []any) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// groupKey normalizes identifier values for in-memory joins, since drivers
// may return the same key as int64 on one side and string on the other.
func groupKey(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func scanRow(rows *sqlx.Rows) (Row, error) {
	raw := map[string]any{}
	if err := rows.MapScan(raw); err != nil {
		return nil, err
	}
	// lib/pq hands back []byte for text columns
	for key, value := range raw {
		if b, ok := value.([]byte); ok {
			raw[key] = string(b)
		}
	}
	return raw, nil
}
