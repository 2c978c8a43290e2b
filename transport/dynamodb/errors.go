package dynamodb

import "errors"

var (
	// ErrAlreadyExists is returned when an insertion collides with an existing record id.
	ErrAlreadyExists = errors.New("lattice: record already exists")

	// ErrBatchTooLarge is returned when a batch exceeds Config.MaxItems.
	ErrBatchTooLarge = errors.New("lattice: batch exceeds transaction item limit")

	// ErrClassRequired is returned by Load when no storage class is given.
	ErrClassRequired = errors.New("lattice: storage class required to locate table")
)
