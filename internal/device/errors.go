package device

import "errors"

var (
	// ErrEntityNotFound is returned when an entity ID does not exist.
	ErrEntityNotFound = errors.New("device: entity not found")

	// ErrInvalidEntity is returned when an entity fails validation.
	ErrInvalidEntity = errors.New("device: invalid entity")

	// ErrInvalidKind is returned when a kind value is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")
)
