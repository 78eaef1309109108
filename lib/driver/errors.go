package driver

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type surfaced by drivers and the storage engine. It
// wraps a return code (of type RetCode) and a message. Not-found is never
// an Error; it is reported through false "found" returns.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StorageError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the RetCode of err, RetCBackend for foreign errors.
func CodeOf(err error) RetCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCBackend
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess       RetCode = iota // 0: Operation executed successfully.
	RetCInvalidKey                   // 1: Malformed key or traversal sequence.
	RetCMissingConfig                // 2: Driver created without a required option.
	RetCSerialization                // 3: Value cannot be stringified.
	RetCBackend                      // 4: I/O, network or remote-service failure.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInvalidKey:
		return "InvalidKey"
	case RetCMissingConfig:
		return "MissingConfig"
	case RetCSerialization:
		return "SerializationFailure"
	case RetCBackend:
		return "BackendFailure"
	default:
		return "Unknown"
	}
}
