package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	limitserrors "github.com/qolzam/entitystore/limits/errors"
	"github.com/qolzam/entitystore/limits/models"
)

// Record write path errors
var (
	ErrRecordNotFound       = errors.New("record not found")
	ErrInvalidRecord        = errors.New("invalid record")
	ErrRecordAlreadyExists  = errors.New("record already exists")
	ErrIdempotencyInFlight  = errors.New("a write with the same idempotency key is in progress")
	ErrUnsupportedReference = errors.New("unsupported record reference")
)

// Error codes
const (
	CodeInvalidRecord     = "INVALID_RECORD"
	CodeIdempotencyLocked = "IDEMPOTENCY_IN_FLIGHT"
)

// RecordError carries the kind and id of the record an operation failed on
type RecordError struct {
	Kind  models.Kind
	ID    string
	Cause error
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Cause)
}

func (e *RecordError) Unwrap() error {
	return e.Cause
}

// Code is the machine-readable code, e.g. LIST-NOT-FOUND.
func (e *RecordError) Code() string {
	switch {
	case errors.Is(e.Cause, ErrRecordNotFound):
		return e.Kind.CodePrefix() + "-NOT-FOUND"
	case errors.Is(e.Cause, ErrRecordAlreadyExists):
		return e.Kind.CodePrefix() + "-ALREADY-EXISTS"
	case errors.Is(e.Cause, ErrIdempotencyInFlight):
		return CodeIdempotencyLocked
	default:
		return CodeInvalidRecord
	}
}

// Status is the HTTP status the error maps to.
func (e *RecordError) Status() int {
	switch {
	case errors.Is(e.Cause, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(e.Cause, ErrRecordAlreadyExists), errors.Is(e.Cause, ErrIdempotencyInFlight):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// NewRecordError creates a RecordError
func NewRecordError(kind models.Kind, id string, cause error) *RecordError {
	return &RecordError{Kind: kind, ID: id, Cause: cause}
}

// HandleServiceError maps record errors to HTTP responses and defers
// everything else to the limits error mapping.
func HandleServiceError(c *fiber.Ctx, err error) error {
	var recordErr *RecordError
	if errors.As(err, &recordErr) {
		return c.Status(recordErr.Status()).JSON(limitserrors.ErrorResponse{
			Code:    recordErr.Code(),
			Message: recordErr.Error(),
		})
	}
	return limitserrors.HandleServiceError(c, err)
}
