package app

import (
	"errors"
	"fmt"
	"net/http"

	"navigator/internal/auth"
	"navigator/internal/jsonrpc"
	"navigator/internal/narrative"
	"navigator/internal/search"
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

// mapError turns service errors into JSON error responses. Upstream service
// errors keep the server message.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return http.StatusBadGateway, "UPSTREAM_ERROR", rpcErr.Error(), map[string]any{"name": rpcErr.Name, "code": rpcErr.Code}
	}
	switch {
	case errors.Is(err, narrative.ErrInvalidKey):
		return http.StatusBadRequest, "INVALID_KEY", "Invalid narrative key", nil
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, search.ErrUnavailable):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
