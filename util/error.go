package util

import (
	"errors"
	"fmt"
	"reflect"
)

type ErrorCode int32

const (
	EC_BadRequest      = 100
	EC_NotSpecified    = 101
	EC_Parse           = 102
	EC_Range           = 103
	EC_InvalidData     = 104
	EC_NotImplemented  = 108
	EC_InvalidArgument = 110
	EC_InvalidState    = 111
	EC_Hardware        = 112
	EC_NoMem           = 113
	EC_Internal        = 200
)

type Error struct {
	Code    ErrorCode
	Message string
	Name    string
	Cause   error
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{code, message, "", nil}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

var _ error = &Error{}

// ErrorCodeOf returns the ErrorCode of err if it is (or wraps) an *Error,
// or EC_Internal otherwise
func ErrorCodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EC_Internal
}

func NewNotSpecifiedError(name string) error {
	return &Error{EC_NotSpecified, fmt.Sprintf("%s not specified", name), name, nil}
}

func NewParseError(parseType string, cause error) error {
	return &Error{EC_Parse,
		fmt.Sprintf("could not parse %s", parseType), parseType, cause}
}

func NewInvalidDataError(dataType string, cause error) error {
	return &Error{EC_InvalidData,
		fmt.Sprintf("could not process %s", dataType), dataType, cause}
}

func NewInvalidArgumentError(name string, message string) error {
	return &Error{EC_InvalidArgument, message, name, nil}
}

func NewInvalidStateError(op string) error {
	return &Error{EC_InvalidState,
		fmt.Sprintf("%s: not initialized", op), op, nil}
}

func NewHardwareError(op string, cause error) error {
	return &Error{EC_Hardware,
		fmt.Sprintf("hardware operation %s failed", op), op, cause}
}

func NewInternalError(cause error) *Error {
	return &Error{EC_Internal, "internal error", "", cause}
}

// CheckNotNil checks that ref is not nil and produces an err with a Message if it is. name should be the
// name of what ref is
func CheckNotNil(ref interface{}, whatWasNil string) (err error) {
	v := reflect.ValueOf(ref)
	if ref == nil || (v.Kind() == reflect.Ptr && v.IsNil()) {
		err = NewNotSpecifiedError(whatWasNil)
	}
	return
}

// CheckRange checks that ref is a valid index to a list of size max, and produces an err with a
// Message if it is not. name should be the name of what ref is.
func CheckRange(ref *int, name string, max int) (err error) {
	if err = CheckNotNil(ref, name); err != nil {
		return
	}
	var message string
	if *ref < 0 {
		message = fmt.Sprintf("%s out of range: %d < 0", name, *ref)
	}
	if *ref >= max {
		message = fmt.Sprintf("%s out of range: %d >= %d", name, *ref, max)
	}
	if message != "" {
		err = &Error{EC_Range, message, name, nil}
	}
	return
}
