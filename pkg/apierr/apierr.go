// Package apierr defines the typed errors surfaced by generated routes and
// their mapping to HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned for absent objects. Objects of another tenant and
	// objects reached through the wrong parent are reported the same way.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a route needs an authenticated caller.
	ErrUnauthorized = errors.New("authentication required")
	// ErrForbidden is returned when the caller lacks a required scope.
	ErrForbidden = errors.New("insufficient scope")
)

// Location prefixes of FieldError.Loc.
const (
	LocPath  = "path"
	LocQuery = "query"
	LocBody  = "body"
)

// FieldError pinpoints one invalid request parameter.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError collects every invalid parameter of a request.
type ValidationError struct {
	Errors []FieldError
}

// NewValidationError returns a ValidationError for a single parameter.
func NewValidationError(loc []string, msg, typ string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Loc: loc, Msg: msg, Type: typ}}}
}

// Add appends a field error.
func (e *ValidationError) Add(loc []string, msg, typ string) {
	e.Errors = append(e.Errors, FieldError{Loc: loc, Msg: msg, Type: typ})
}

// Err returns e if it holds errors, nil otherwise.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", strings.Join(fe.Loc, "."), fe.Msg)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// PolicyError is a request refused by a resource policy. Code is stable and
// meant for clients to branch on.
type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConfigError reports an invalid resource declaration. It is returned while
// building routes and never while serving requests.
type ConfigError struct {
	Resource string
	Msg      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("resource %s: %s", e.Resource, e.Msg)
}

// Configf returns a ConfigError with a formatted message.
func Configf(resource, format string, args ...any) *ConfigError {
	return &ConfigError{Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

// Status maps an error to an HTTP status code.
func Status(err error) int {
	var (
		verr *ValidationError
		perr *PolicyError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr), errors.As(err, &perr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
