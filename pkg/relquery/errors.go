package relquery

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when no connection frees up within the
	// acquire timeout. Callers may retry with backoff.
	ErrPoolExhausted = errors.New("relquery: connection pool exhausted")

	// ErrDeadlineExceeded is returned when the request's wall-clock budget
	// elapses before the fetch completes.
	ErrDeadlineExceeded = errors.New("relquery: request deadline exceeded")

	// ErrInvalidRelation is returned when a requested relation name is not
	// declared for the entity. No query is executed.
	ErrInvalidRelation = errors.New("relquery: relation is not declared for entity")

	// ErrPoolClosed is returned by Acquire after the pool has been closed.
	ErrPoolClosed = errors.New("relquery: connection pool is closed")

	// ErrUnknownEntity is returned when the requested entity is not registered.
	ErrUnknownEntity = errors.New("relquery: entity is not registered")
)

// FetchError reports a data-store failure on a specific plan step. Remaining
// steps are aborted and no partial result is returned.
type FetchError struct {
	Step string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("relquery: fetch step %q failed: %v", e.Step, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func invalidRelation(entity, relation string) error {
	return fmt.Errorf("%w: %q has no relation %q", ErrInvalidRelation, entity, relation)
}
