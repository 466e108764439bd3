package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wesm/work-inbox/internal/sync"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	if errors.Is(err, sync.ErrUnknownInstance) {
		return http.StatusNotFound, "UNKNOWN_INSTANCE", err.Error()
	}
	if errors.Is(err, sync.ErrUnknownItem) {
		return http.StatusNotFound, "UNKNOWN_ITEM", err.Error()
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
