package discovery

import "errors"

var (
	// ErrClosed is returned by operations on a closed Reconciler.
	ErrClosed = errors.New("discovery: reconciler closed")
)
