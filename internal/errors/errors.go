// Package errors defines the coded application errors shared by the session
// engine and the callers that invoke it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error codes for the application.
const (
	CodeUnknown          = "UNKNOWN"
	CodeNotFound         = "NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeConflict         = "CONFLICT"
	CodeValidation       = "VALIDATION"
	CodeDecryption       = "DECRYPTION"
	CodePersistence      = "PERSISTENCE"
	CodeTransport        = "TRANSPORT"
	CodeConfig           = "CONFIG"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a coded application error.
type Error struct {
	code    string
	message string
	err     error
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

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't carry one.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

func newError(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

// NewNotFoundError reports a referenced bot or group that does not exist.
func NewNotFoundError(message string) error {
	return newError(CodeNotFound, message, nil)
}

// NewPermissionDeniedError reports cross-tenant access to a bot.
func NewPermissionDeniedError(message string) error {
	return newError(CodePermissionDenied, message, nil)
}

// NewConflictError reports a request that clashes with the bot's current state.
func NewConflictError(message string) error {
	return newError(CodeConflict, message, nil)
}

func NewValidationError(message string, cause error) error {
	return newError(CodeValidation, message, cause)
}

// NewDecryptionError reports stored ciphertext that failed authentication.
// Callers treat it as absent state.
func NewDecryptionError(message string, cause error) error {
	return newError(CodeDecryption, message, cause)
}

func NewPersistenceError(message string, cause error) error {
	return newError(CodePersistence, message, cause)
}

func NewTransportError(message string, cause error) error {
	return newError(CodeTransport, message, cause)
}

func NewConfigError(message string, cause error) error {
	return newError(CodeConfig, message, cause)
}

func IsNotFound(err error) bool         { return Code(err) == CodeNotFound }
func IsPermissionDenied(err error) bool { return Code(err) == CodePermissionDenied }
func IsConflict(err error) bool         { return Code(err) == CodeConflict }
func IsValidation(err error) bool       { return Code(err) == CodeValidation }
func IsDecryption(err error) bool       { return Code(err) == CodeDecryption }
func IsPersistence(err error) bool      { return Code(err) == CodePersistence }
func IsTransport(err error) bool        { return Code(err) == CodeTransport }
func IsConfig(err error) bool           { return Code(err) == CodeConfig }

// HTTPStatus maps an error to the status code an HTTP caller should surface.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch Code(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
