package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// fieldError is a single-field validation failure in the same shape the
// payload validator reports.
func fieldError(field, message string) *DomainError {
	return validationError(message, map[string][]string{field: {message}})
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication credentials were not provided.", nil)
}

func forbidden(message string) *DomainError {
	if message == "" {
		message = "You do not have permission to perform this action."
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func notFound(message string) *DomainError {
	if message == "" {
		message = "Not found."
	}
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}
