package apperr

import (
	"errors"
	"net/http"
)

// Well-known error codes returned to API clients.
const (
	CodeMissingAuthorization = "missing_authorization"
	CodeInvalidAuth          = "invalid_authentication"
	CodeDisabledAccount      = "disabled_account"
	CodeAccessForbidden      = "access_forbidden"
	CodeMissingJWTSecret     = "missing_jwt_secret"
	CodeNoMatches            = "no_matches"
	CodeInvalidUpdateBody    = "invalid_update_body"
	CodeValidation           = "validation"
	CodeCast                 = "cast"
	CodeServerError          = "server_error"
)

// Error is a client-visible failure with a stable code and HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Data    map[string]any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// New constructs an Error. Status defaults to 400 when zero.
func New(code, message string, status int) *Error {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &Error{Code: code, Message: message, Status: status}
}

// WithData attaches structured detail for the response envelope.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// Common constructors used across the gateway and resource controllers.
func MissingAuthorization() *Error {
	return New(CodeMissingAuthorization, "Missing Authorization", http.StatusUnauthorized)
}

func InvalidAuthentication() *Error {
	return New(CodeInvalidAuth, "Invalid Authentication", http.StatusUnauthorized)
}

func DisabledAccount() *Error {
	return New(CodeDisabledAccount, "Account is disabled", http.StatusBadRequest)
}

func AccessForbidden() *Error {
	return New(CodeAccessForbidden, "Access Forbidden", http.StatusForbidden)
}

func NoMatches() *Error {
	return New(CodeNoMatches, "No matches found", http.StatusNotFound)
}

// Envelope is the wire format for every client-visible failure.
type Envelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Handle normalizes any error into a status plus response envelope.
// Unexpected errors are reported as server_error with no internal detail;
// the caller is responsible for logging them.
func Handle(err error) (int, Envelope, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status, Envelope{
			Code:    appErr.Code,
			Message: appErr.Message,
			Data:    appErr.Data,
		}, true
	}
	return http.StatusInternalServerError, Envelope{
		Code:    CodeServerError,
		Message: "Something went wrong in the server",
	}, false
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
