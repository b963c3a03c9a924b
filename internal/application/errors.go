package application

import "errors"

// Misuse errors are returned before any network call is made.
var (
	ErrEmptyMethod       = errors.New("method is required")
	ErrNotListMethod     = errors.New("method is not a list method")
	ErrInvalidFilter     = errors.New("list filter must be an object")
	ErrDuplicateCallID   = errors.New("duplicate batch call id")
	ErrPortalKeyRequired = errors.New("portal lookup key is required")
	ErrDomainRequired    = errors.New("portal domain is required")
)

// Response errors.
var (
	ErrInvalidResponse     = errors.New("invalid JSON response")
	ErrUnexpectedListShape = errors.New("unexpected list response shape")
	ErrListCursorStalled   = errors.New("list cursor did not advance")
	ErrBatchRoundLimit     = errors.New("batch continuation round limit exceeded")
)

// ErrUnknownApplication is returned when an uninstall event names an
// application token no portal is registered with.
var ErrUnknownApplication = errors.New("unknown application token")
