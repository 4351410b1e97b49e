package relquery

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/tetradx/tetradx/pkg/metrics"
	"github.com/tetradx/tetradx/pkg/tracing"
)

// Service is the fetch entrypoint: it plans the request, borrows a pooled
// connection, executes the plan under the request deadline and guarantees
// the connection is released on every exit path.
type Service struct {
	planner         *Planner
	executor        *Executor
	pool            *Pool
	defaultDeadline time.Duration
	logger          ectologger.Logger
}

func NewService(schema *Schema, pool *Pool, defaultDeadline time.Duration, logger ectologger.Logger) *Service {
	return &Service{
		planner:         NewPlanner(schema),
		executor:        NewExecutor(logger),
		pool:            pool,
		defaultDeadline: defaultDeadline,
		logger:          logger,
	}
}

// Fetch answers "these entities plus their requested relations" in
// 1 + |relations| round trips. It either fully succeeds or fully fails;
// partial results are never returned.
func (s *Service) Fetch(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "relquery.Service.Fetch")
	defer span.End()

	start := time.Now()

	plan, err := s.planner.Plan(req)
	if err != nil {
		// rejected before any query executes, zero round trips
		metrics.FetchesTotal.WithLabelValues(req.Entity, "invalid").Inc()
		return nil, err
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = s.defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		outcome := "failure"
		if errors.Is(err, ErrPoolExhausted) {
			outcome = "exhausted"
		} else if errors.Is(err, ErrDeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.FetchesTotal.WithLabelValues(req.Entity, outcome).Inc()
		s.logger.WithContext(ctx).WithError(err).WithField("entity", req.Entity).Error("Failed to acquire connection for fetch")
		return nil, err
	}
	s.observePool()

	healthy := true
	defer func() {
		s.pool.Release(conn, healthy)
		s.observePool()
	}()

	result, err := s.executor.Execute(ctx, conn, plan)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// the driver may not support cancellation mid-query, so the
			// connection is discarded rather than reused
			healthy = false
			metrics.FetchesTotal.WithLabelValues(req.Entity, "timeout").Inc()
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"entity":   req.Entity,
				"deadline": deadline.String(),
				"elapsed":  elapsed.String(),
			}).Warnf("Fetch deadline of %s exceeded", deadline)
			return nil, ErrDeadlineExceeded
		}

		healthy = false
		metrics.FetchesTotal.WithLabelValues(req.Entity, "failure").Inc()
		s.logger.WithContext(ctx).WithError(err).WithField("entity", req.Entity).Error("Fetch failed")
		return nil, err
	}

	result.Elapsed = elapsed

	metrics.FetchesTotal.WithLabelValues(req.Entity, "success").Inc()
	metrics.FetchDuration.WithLabelValues(req.Entity).Observe(elapsed.Seconds())
	metrics.FetchRoundTrips.WithLabelValues(req.Entity).Observe(float64(result.RoundTrips))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity":      req.Entity,
		"records":     len(result.Records),
		"round_trips": result.RoundTrips,
		"elapsed":     elapsed.String(),
	}).Debug("Fetch completed")

	return result, nil
}

func (s *Service) observePool() {
	metrics.PoolBorrowed.Set(float64(s.pool.Borrowed()))
	metrics.PoolIdle.Set(float64(s.pool.Idle()))
}
