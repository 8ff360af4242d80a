package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// ValidationError is returned when a request is malformed or missing a required field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func NewValidationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("field", e.Field)
}

// NotFoundError is returned for an unknown entity, orphan or suggestion id.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error()).AddMetaValue("resource", e.Resource).AddMetaValue("id", e.ID)
}

// ConflictError is returned when the current state does not allow the operation:
// an illegal lifecycle transition, a merge target mismatch, or a compute slot
// owned by another instance.
type ConflictError struct {
	Reason  string
	Message string
}

func NewConflictError(reason, msg string) *ConflictError {
	return &ConflictError{Reason: reason, Message: msg}
}

func NewConflictErrorf(reason, format string, args ...any) *ConflictError {
	return &ConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("reason", e.Reason)
}

// UpstreamTimeoutError is returned when a store or compute call exceeded its bound.
// Clients may retry.
type UpstreamTimeoutError struct {
	Operation string
	Err       error
}

func NewUpstreamTimeoutError(operation string, err error) *UpstreamTimeoutError {
	return &UpstreamTimeoutError{Operation: operation, Err: err}
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Operation)
}

func (e *UpstreamTimeoutError) Unwrap() error {
	return e.Err
}

func (e *UpstreamTimeoutError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusGatewayTimeout, e.Error()).AddMetaValue("operation", e.Operation).AddMetaValue("retryable", true)
}

type httpConvertible interface {
	error
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError converts a domain error anywhere in err's chain into an HTTP error.
// Errors that are not domain errors are returned unchanged.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var convertible httpConvertible
	if stderrors.As(err, &convertible) {
		return convertible.ToHTTPError()
	}
	return err
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return stderrors.As(err, &target)
}

func IsConflictError(err error) bool {
	var target *ConflictError
	return stderrors.As(err, &target)
}

func IsUpstreamTimeoutError(err error) bool {
	var target *UpstreamTimeoutError
	return stderrors.As(err, &target)
}
