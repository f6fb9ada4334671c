package driver

import "errors"

var (
	// ErrReadOnly is returned when writing a characteristic that has no
	// write handler.
	ErrReadOnly = errors.New("driver: characteristic is read-only")

	// ErrInvalidValue is returned when a written value has the wrong type.
	ErrInvalidValue = errors.New("driver: invalid characteristic value")

	// ErrUnknownKind is returned by Factory.New for an unrecognised kind.
	ErrUnknownKind = errors.New("driver: unknown device kind")
)
