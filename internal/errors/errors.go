package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"collaborative-doc-sync/internal/engine"

	"github.com/go-playground/validator/v10"
)

// APIError is the error body every REST handler answers with. Internal is
// logged, never sent.
type APIError struct {
	Status   int               `json:"-"`
	Message  string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	Current  any               `json:"current,omitempty"`
	Internal error             `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

func New(status int, message string, err error) *APIError {
	return &APIError{Status: status, Message: message, Internal: err}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, message, err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, message, err)
}

func UnprocessableEntity(message string, err error) *APIError {
	return New(http.StatusUnprocessableEntity, message, err)
}

func ServiceUnavailable(message string, err error) *APIError {
	return New(http.StatusServiceUnavailable, message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, "Internal server error", err)
}

// Stale is the 409 answered to a save whose base version lost the race.
// current is the state the client must resync to.
func Stale(current any) *APIError {
	e := Conflict("Document was changed by someone else", nil)
	e.Current = current
	return e
}

// NewValidationError turns binding errors into a 400 listing the offending
// fields.
func NewValidationError(err error) *APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return BadRequest("Invalid request body", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[lowerFirst(fe.Field())] = describe(fe)
	}
	e := BadRequest("Validation failed", err)
	e.Fields = fields
	return e
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// FromEngine maps synchronization engine errors onto API errors.
func FromEngine(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, engine.ErrNotFound):
		return NotFound("Document not found", err)
	case errors.Is(err, engine.ErrForbidden):
		return Forbidden("You don't have access to this document", err)
	case errors.Is(err, engine.ErrInvalidProposal):
		return UnprocessableEntity("Invalid edit", err)
	default:
		return Internal(err)
	}
}
