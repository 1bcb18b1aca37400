package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is an error that carries the HTTP status and the client-facing message.
// Code is kept for logs and metrics; it is never written to responses.
type AppError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so wrapped copies still compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !stderrors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// Common application errors.
var (
	ErrBadRequest     = New("BAD_REQUEST", "Bad request", http.StatusBadRequest)
	ErrUnauthorized   = New("UNAUTHORIZED", "Please authenticate", http.StatusUnauthorized)
	ErrForbidden      = New("FORBIDDEN", "Access denied", http.StatusForbidden)
	ErrNotFound       = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict       = New("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrTooManyRequest = New("TOO_MANY_REQUESTS", "Too many requests", http.StatusTooManyRequests)
	ErrInternalServer = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
)

// New builds an AppError.
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status}
}

// NewBadRequest returns a 400 error with the supplied message.
func NewBadRequest(message string) *AppError {
	return New(ErrBadRequest.Code, message, http.StatusBadRequest)
}

// NewNotFound returns a 404 error with the supplied message.
func NewNotFound(message string) *AppError {
	return New(ErrNotFound.Code, message, http.StatusNotFound)
}

// Wrap attaches an underlying cause to a copy of the AppError.
func Wrap(err error, appErr *AppError) *AppError {
	if appErr == nil {
		appErr = ErrInternalServer
	}
	cp := *appErr
	cp.Err = err
	return &cp
}

// FromError extracts an AppError from err, falling back to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr != nil {
		return appErr
	}
	return Wrap(err, ErrInternalServer)
}
