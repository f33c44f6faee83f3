// Package errors provides structured error handling for warden services.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// User errors
	CodeUserEmptyUsername   Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeUserAlreadyExists   Code = "USER_ALREADY_EXISTS"

	// Ceremony errors. Every validator, loader, and checker failure during a
	// WebAuthn ceremony collapses into this one code; the wrapped cause keeps
	// the original message.
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Internal errors
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument,
		CodeUserEmptyUsername,
		CodeUserInvalidUsername:
		return http.StatusBadRequest

	case CodeAuthenticationFailed:
		return http.StatusUnauthorized

	case CodeNotFound:
		return http.StatusNotFound

	case CodeUserAlreadyExists:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
