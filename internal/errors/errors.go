// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError covers unknown campaigns, sequences and steps.
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

func NewCampaignNotFound(id int) error {
	return &NotFoundError{Resource: "campaign", ID: id}
}

func NewSequenceNotFound(id int) error {
	return &NotFoundError{Resource: "sequence", ID: id}
}

func NewStepNotFound(id int) error {
	return &NotFoundError{Resource: "sequence step", ID: id}
}

// ValidationError covers already-sent campaigns, empty recipient sets and
// malformed payloads.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthError covers bad bearer tokens and invalid webhook signatures.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func NewAuth(message string) error {
	return &AuthError{Message: message}
}

// ProviderError wraps a failed call to the email provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProvider(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}

// HTTPStatus maps an error from the taxonomy to the status code the handler
// boundary should answer with. Anything unrecognized is a 500.
func HTTPStatus(err error) int {
	var notFound *NotFoundError
	var validation *ValidationError
	var auth *AuthError
	switch {
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
