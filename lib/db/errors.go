package db

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies every error crossing the Store interface
type ErrCode uint64

const (
	ErrCUnknown          ErrCode = iota // 0: Unclassified error.
	ErrCStoreUnavailable                // 1: Backend unreachable or misconfigured.
	ErrCIllegalState                    // 2: Wrong lifecycle phase or iterator already open.
	ErrCInvalidArgument                 // 3: Key/value/namespace violates the contract.
	ErrCDataReset                       // 4: Persisted data was incompatible and got reset.
)

func (c ErrCode) String() string {
	switch c {
	case ErrCStoreUnavailable:
		return "StoreUnavailable"
	case ErrCIllegalState:
		return "IllegalState"
	case ErrCInvalidArgument:
		return "InvalidArgument"
	case ErrCDataReset:
		return "DataReset"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an error code, a message and an optional cause.
type Error struct {
	Code  ErrCode // The error code
	Msg   string  // The error message
	Cause error   // The underlying (backend) error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("nskv error (%s): %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("nskv error (%s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so errors.Is(err, db.ErrIllegalState) works for
// every error with the IllegalState code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for use with errors.Is
var (
	ErrStoreUnavailable = &Error{Code: ErrCStoreUnavailable, Msg: "store unavailable"}
	ErrIllegalState     = &Error{Code: ErrCIllegalState, Msg: "illegal state"}
	ErrInvalidArgument  = &Error{Code: ErrCInvalidArgument, Msg: "invalid argument"}
	ErrDataReset        = &Error{Code: ErrCDataReset, Msg: "data reset"}
)

// NewError creates a new Error with the given code and message
func NewError(code ErrCode, msg string, args ...interface{}) *Error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Code: code, Msg: msg}
}

// WrapError creates a new Error with a cause. If cause already is an *Error it
// is returned unchanged so the original classification survives.
func WrapError(code ErrCode, cause error, msg string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Code: code, Msg: msg, Cause: errors.WithStack(cause)}
}

// CodeOf returns the error code of err, ErrCUnknown if err is not an *Error
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCUnknown
}

// Reclassify wraps cause with a new code, also if cause already is an
// *Error. Used where the meaning changes at a boundary, e.g. an invalid init
// param makes the whole store unavailable.
func Reclassify(code ErrCode, cause error, msg string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Code: code, Msg: msg, Cause: cause}
}
