// Package storage provides the persistence backends for users and
// sessions: an in-memory store for tests and single-node setups, and a
// Postgres store.
package storage

import "errors"

// Sentinel errors the stores translate backend failures into. Callers
// map these onto protocol errors (conflict, data error) where needed.
var (
	// ErrNotFound means no record matched.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict means a uniqueness constraint was violated.
	ErrConflict = errors.New("storage: conflict")

	// ErrData wraps any other backend failure.
	ErrData = errors.New("storage: data error")
)
