package storage

import "errors"

// Sentinels shared by every backend. Deployments and harvest outcomes are
// written once and never updated.
var (
	// ErrNotFound means no deployment or outcome matched the lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey means the record, or a deployment of the same vault,
	// is already stored.
	ErrDuplicateKey = errors.New("duplicate key: record already stored")

	// ErrInvalidInput means a record failed validation before any write.
	ErrInvalidInput = errors.New("invalid input")
)
