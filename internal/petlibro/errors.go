package petlibro

import (
	"errors"
	"fmt"
)

// Sentinel errors. Transport and protocol failures are wrapped with
// context; test with errors.Is.
var (
	// ErrMissingCredentials means no email or password is configured.
	// It aborts a discovery pass but is not fatal to the process.
	ErrMissingCredentials = errors.New("petlibro: email and password are required")

	// ErrTransport covers network failures, timeouts and non-2xx responses.
	ErrTransport = errors.New("petlibro: transport error")

	// ErrProtocol covers malformed bodies and non-zero status codes.
	ErrProtocol = errors.New("petlibro: protocol error")

	// ErrCommandRejected is returned when a feed command gets no recognised
	// success indicator.
	ErrCommandRejected = errors.New("petlibro: command rejected")

	// ErrNotAuthenticated is returned by Session.Authorize when the
	// credential was discarded between renewal and use.
	ErrNotAuthenticated = errors.New("petlibro: session not authenticated")

	// ErrNoSerial is returned for device operations without a serial.
	ErrNoSerial = errors.New("petlibro: device serial is required")
)

// AuthError is a login rejected by the vendor.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("petlibro: authentication failed: %s (code: %d)", e.Message, e.Code)
}
