package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist for the
	// requesting tenant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidArgument is returned when a required input to an entry
	// point is missing or malformed. Wrap it with the field name:
	// fmt.Errorf("%w: vehicle is required", domain.ErrInvalidArgument).
	ErrInvalidArgument = errors.New("invalid argument")
)
