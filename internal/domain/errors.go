package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed input. Transactions
	// failing validation are rejected before entering the pipeline.
	ErrInvalidInput = errors.New("invalid input")
)
