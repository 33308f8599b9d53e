package ir

import (
	"errors"
	"fmt"
)

// Error is the typed failure returned by every engine, ledger and
// reputation operation. Failures are terminal for the call and never
// partially commit.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// StreamID identifies the affected stream, when HasStream is set.
	StreamID  StreamID
	HasStream bool

	// Principal identifies the offending caller, if any.
	Principal Principal
}

// ErrorCode categorizes failures.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates the caller lacks rights for the operation.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeNotFound indicates the referenced stream or record is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeAlreadyRecorded indicates a one-time event was already recorded.
	ErrCodeAlreadyRecorded ErrorCode = "ALREADY_RECORDED"

	// ErrCodeAlreadyRated indicates the rating key already holds a rating.
	ErrCodeAlreadyRated ErrorCode = "ALREADY_RATED"

	// ErrCodeInvalidArgument indicates malformed block ranges or zero amounts.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeInvalidRating indicates a rating outside [1,5].
	ErrCodeInvalidRating ErrorCode = "INVALID_RATING"

	// ErrCodeInvalidState indicates an operation on a non-Active stream or a
	// rating attempted before completion.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
)

// legacyNumbers are the numeric codes callers of the original contracts
// matched on (err u100, err u102, err u104, ...).
var legacyNumbers = map[ErrorCode]uint32{
	ErrCodeUnauthorized:    100,
	ErrCodeNotFound:        101,
	ErrCodeAlreadyRecorded: 102,
	ErrCodeAlreadyRated:    103,
	ErrCodeInvalidRating:   104,
	ErrCodeInvalidArgument: 105,
	ErrCodeInvalidState:    106,
}

// Number returns the legacy numeric code, or 0 for unknown codes.
func (c ErrorCode) Number() uint32 {
	return legacyNumbers[c]
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.HasStream {
		return fmt.Sprintf("%s: %s (stream=%d)", e.Code, e.Message, e.StreamID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error by code, so errors.Is(err, ErrNotFound) works
// against the sentinel values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized    = &Error{Code: ErrCodeUnauthorized}
	ErrNotFound        = &Error{Code: ErrCodeNotFound}
	ErrAlreadyRecorded = &Error{Code: ErrCodeAlreadyRecorded}
	ErrAlreadyRated    = &Error{Code: ErrCodeAlreadyRated}
	ErrInvalidArgument = &Error{Code: ErrCodeInvalidArgument}
	ErrInvalidRating   = &Error{Code: ErrCodeInvalidRating}
	ErrInvalidState    = &Error{Code: ErrCodeInvalidState}
)

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StreamError creates an Error bound to a stream id.
func StreamError(code ErrorCode, id StreamID, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		StreamID:  id,
		HasStream: true,
	}
}

// WithStream tags a domain error in err's chain with the stream it
// concerns, unless it already names one. Other errors pass through.
func WithStream(err error, id StreamID) error {
	var e *Error
	if errors.As(err, &e) && !e.HasStream {
		e.StreamID = id
		e.HasStream = true
	}
	return err
}

// WithPrincipal attaches the offending principal.
func (e *Error) WithPrincipal(p Principal) *Error {
	e.Principal = p
	return e
}

// CodeOf extracts the code from err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode returns true if err is an *Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
