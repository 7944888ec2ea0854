package apiclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medforge/portal/internal/surface"
)

// TransportError means the request could not be completed: network failure,
// timeout, cancellation or a body that could not be read.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: request failed: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ContractError means a 2xx response did not match the {data, meta}
// envelope. It signals a client/server version mismatch and is never retried.
type ContractError struct {
	Method string
	Path   string
	Status int
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s %s returned an invalid response envelope: %s", e.Method, e.Path, e.Reason)
}

// RequestError is an application-level rejection carrying the server's
// problem document when one was present.
type RequestError struct {
	Message   string
	Method    string
	Path      string
	Status    int
	Code      string
	RequestID string
	Errors    []map[string]any
}

func (e *RequestError) Error() string {
	return e.Message
}

// SurfaceMismatchError is returned before any I/O when a path belongs to a
// different surface than the one the client is bound to.
type SurfaceMismatchError struct {
	Client surface.Surface
	Path   string
}

func (e *SurfaceMismatchError) Error() string {
	return fmt.Sprintf("path %s is not in the %s surface namespace", e.Path, e.Client)
}

// Message flattens any client error into one human-readable line
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if msg := strings.TrimSpace(reqErr.Message); msg != "" {
			return msg
		}
		return fallback
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}

// IsRetryable reports whether repeating the same request could succeed
func IsRetryable(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status >= 500
	}
	return false
}

// StatusCode returns the HTTP status behind err, or 0 when there was none
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	var contract *ContractError
	if errors.As(err, &contract) {
		return contract.Status
	}
	return 0
}
