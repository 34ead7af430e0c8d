// Package apperrors defines the coded error taxonomy shared by the HTTP
// layer and the services behind it.
package apperrors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown    = "UNKNOWN"
	CodeAuth       = "AUTH"
	CodeRemote     = "REMOTE"
	CodeDatabase   = "DATABASE"
	CodeValidation = "VALIDATION"
)

// CodedError is the interface that all our custom errors implement.
type CodedError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a coded application error wrapping an optional cause.
type Error struct {
	code    string
	message string
	err     error
}

func newError(code, message string, err error) *Error {
	return &Error{code: code, message: message, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewAuthError reports a rejected or expired access token.
func NewAuthError(message string, err error) *Error {
	return newError(CodeAuth, message, err)
}

// NewRemoteError reports a failed or malformed remote API response.
func NewRemoteError(message string, err error) *Error {
	return newError(CodeRemote, message, err)
}

// NewDatabaseError reports a persistence failure.
func NewDatabaseError(message string, err error) *Error {
	return newError(CodeDatabase, message, err)
}

// NewValidationError reports malformed or missing request parameters.
func NewValidationError(message string, err error) *Error {
	return newError(CodeValidation, message, err)
}

// Code returns the error code carried anywhere in err's chain,
// or CodeUnknown if it doesn't carry one.
func Code(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}

	return CodeUnknown
}
