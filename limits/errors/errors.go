package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/qolzam/entitystore/limits/models"
)

// Record policy errors
var (
	ErrLimitExceeded       = errors.New("record limit exceeded")
	ErrUniquenessViolation = errors.New("uniqueness violation")
	ErrInvalidRuleConfig   = models.ErrInvalidRuleConfig
)

// Error codes that do not depend on the record kind
const (
	CodeInvalidRuleConfig = "INVALID_RULE_CONFIG"
	CodeInternalError     = "INTERNAL_ERROR"
)

// LimitExceededError is returned when a write would push a scope past its limit.
type LimitExceededError struct {
	Kind  models.Kind
	Limit int
	Scope string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: %s limit of %d reached for scope %q", e.Code(), e.Kind, e.Limit, e.Scope)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// Code is the machine-readable code, e.g. ENTITY-LIMIT-EXCEEDED.
func (e *LimitExceededError) Code() string {
	return e.Kind.CodePrefix() + "-LIMIT-EXCEEDED"
}

// Status is the HTTP status the error maps to.
func (e *LimitExceededError) Status() int {
	return http.StatusTooManyRequests
}

// Details carries the configured limit and the resolved scope.
func (e *LimitExceededError) Details() map[string]interface{} {
	return map[string]interface{}{"limit": e.Limit, "scope": e.Scope}
}

// NewLimitExceededError creates a LimitExceededError
func NewLimitExceededError(kind models.Kind, limit int, scope string) *LimitExceededError {
	return &LimitExceededError{Kind: kind, Limit: limit, Scope: scope}
}

// UniquenessViolationError is returned when a write would duplicate an existing record.
type UniquenessViolationError struct {
	Kind  models.Kind
	Scope string
}

func (e *UniquenessViolationError) Error() string {
	return fmt.Sprintf("%s: %s already exists in scope %q", e.Code(), e.Kind, e.Scope)
}

func (e *UniquenessViolationError) Unwrap() error {
	return ErrUniquenessViolation
}

// Code is the machine-readable code, e.g. LIST-UNIQUENESS-VIOLATION.
func (e *UniquenessViolationError) Code() string {
	return e.Kind.CodePrefix() + "-UNIQUENESS-VIOLATION"
}

// Status is the HTTP status the error maps to.
func (e *UniquenessViolationError) Status() int {
	return http.StatusConflict
}

// Details carries the resolved scope.
func (e *UniquenessViolationError) Details() map[string]interface{} {
	return map[string]interface{}{"scope": e.Scope}
}

// NewUniquenessViolationError creates a UniquenessViolationError
func NewUniquenessViolationError(kind models.Kind, scope string) *UniquenessViolationError {
	return &UniquenessViolationError{Kind: kind, Scope: scope}
}

// ErrorResponse represents the standardized error response format
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// HandleServiceError handles service errors and returns appropriate HTTP responses
func HandleServiceError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	var limitErr *LimitExceededError
	var uniqueErr *UniquenessViolationError
	switch {
	case errors.As(err, &limitErr):
		return c.Status(limitErr.Status()).JSON(ErrorResponse{
			Code:    limitErr.Code(),
			Message: fmt.Sprintf("The %s limit of %d has been reached", limitErr.Kind, limitErr.Limit),
			Details: limitErr.Details(),
		})
	case errors.As(err, &uniqueErr):
		return c.Status(uniqueErr.Status()).JSON(ErrorResponse{
			Code:    uniqueErr.Code(),
			Message: fmt.Sprintf("The %s already exists", uniqueErr.Kind),
			Details: uniqueErr.Details(),
		})
	case errors.Is(err, ErrInvalidRuleConfig):
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Code:    CodeInvalidRuleConfig,
			Message: "Record rule configuration is invalid",
			Details: err.Error(),
		})
	default:
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Code:    CodeInternalError,
			Message: "An unexpected error occurred",
			Details: err.Error(),
		})
	}
}
