package store

import (
	"errors"
	"fmt"
)

var (
	// ErrVectorIndexUnavailable is returned by vector operations when the
	// backend has no vector index or it has not been initialized yet.
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	// ErrConnection is returned when the storage backend cannot be reached.
	ErrConnection = errors.New("store connection failed")
)

// ConflictError is returned by Apply when a close targets a row that is no
// longer the open version: a concurrent writer superseded it first.
type ConflictError struct {
	RowID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict: row %s is no longer current", e.RowID)
}
