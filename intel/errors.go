package intel

import "errors"

// ErrInvalidRequest is returned when a request fails validation.
var ErrInvalidRequest = errors.New("intel: invalid request")

// ErrConsentRequired is returned when compliance demands explicit user
// consent and the request does not carry it.
var ErrConsentRequired = errors.New("intel: explicit user consent required")

// ErrClosed is returned for operations on a closed service.
var ErrClosed = errors.New("intel: service closed")
