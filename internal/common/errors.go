package common

import (
	"errors"
	"net/http"
)

// Error codes used across the cart and checkout flows.
const (
	CodeValidation  = "VALIDATION"
	CodeAuth        = "AUTH"
	CodeNotFound    = "NOT_FOUND"
	CodeServer      = "SERVER"
	CodePersistence = "PERSISTENCE"
	CodeInFlight    = "IN_FLIGHT"
	CodeEmptyCart   = "EMPTY_CART"
	CodeState       = "INVALID_STATE"
)

// Fallback messages used when the remote side does not supply one.
const (
	MsgValidation  = "please fill in all shipping address fields"
	MsgAuth        = "your session has expired, please sign in again"
	MsgNotFound    = "shopping cart not found"
	MsgServer      = "something went wrong, please try again"
	MsgPersistence = "stored cart could not be read"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError extracts the AppError from err when present.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the AppError code carried by err, or an empty string.
func CodeOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given AppError code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Validation builds a field-level validation failure.
func Validation(message string, fields map[string]string) *AppError {
	if message == "" {
		message = MsgValidation
	}
	e := NewAppError(CodeValidation, message, http.StatusUnprocessableEntity, nil)
	if len(fields) > 0 {
		e.Details = fields
	}
	return e
}

// Auth builds a missing or expired credential failure.
func Auth(message string, err error) *AppError {
	return NewAppError(CodeAuth, fallback(message, MsgAuth), http.StatusUnauthorized, err)
}

// NotFound builds a missing remote cart failure.
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, fallback(message, MsgNotFound), http.StatusNotFound, err)
}

// Server builds a generic retryable failure.
func Server(message string, err error) *AppError {
	return NewAppError(CodeServer, fallback(message, MsgServer), http.StatusBadGateway, err)
}

// Persistence builds a local storage failure. It is logged, never shown.
func Persistence(err error) *AppError {
	return NewAppError(CodePersistence, MsgPersistence, http.StatusInternalServerError, err)
}

func fallback(message, def string) string {
	if message == "" {
		return def
	}
	return message
}
