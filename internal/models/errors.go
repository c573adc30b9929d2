package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error codes used across the engagement core.
const (
	CodeTargetNotFound     = "TARGET_NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeTransient          = "TRANSIENT"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	CodeSubscriptionError  = "SUBSCRIPTION_ERROR"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Predefined error constructors
func NewTargetNotFoundError(target TargetRef) *AppError {
	return &AppError{
		Code:    CodeTargetNotFound,
		Message: fmt.Sprintf("%s %s not found", target.ContentType, target.ContentID),
	}
}

// NewTransientError wraps a network/availability-class failure that is safe
// to retry.
func NewTransientError(err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Message: "store temporarily unavailable",
		Err:     err,
	}
}

// RateLimitedError carries the window metadata the UI needs for messaging.
type RateLimitedError struct {
	AppError
	Action    ActionType
	Remaining int
	ResetAt   time.Time
}

// Unwrap exposes the embedded AppError so errors.As and HasCode see the
// RATE_LIMITED code through the wrapper.
func (e *RateLimitedError) Unwrap() error {
	return &e.AppError
}

func NewRateLimitedError(action ActionType, remaining int, resetAt time.Time) *RateLimitedError {
	return &RateLimitedError{
		AppError: AppError{
			Code:    CodeRateLimited,
			Message: fmt.Sprintf("too many %s actions, retry after %s", action, resetAt.Format(time.RFC3339)),
		},
		Action:    action,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func NewMaxRetriesExceededError(op QueuedOperation) *AppError {
	return &AppError{
		Code:    CodeMaxRetriesExceeded,
		Message: fmt.Sprintf("dropping %s intent for %s after %d retries", actionWord(op.Desired), op.Target().Key(), op.RetryCount),
	}
}

func NewSubscriptionError(target TargetRef, err error) *AppError {
	return &AppError{
		Code:    CodeSubscriptionError,
		Message: fmt.Sprintf("watch failed for %s", target.Key()),
		Err:     err,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidationError,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "Internal server error",
		Err:     err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	return HasCode(err, CodeTransient)
}

func actionWord(like bool) string {
	if like {
		return "like"
	}
	return "unlike"
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var rlErr *RateLimitedError
	if errors.As(err, &rlErr) {
		return c.Status(status).JSON(fiber.Map{
			"error":     rlErr.Message,
			"code":      rlErr.Code,
			"action":    rlErr.Action,
			"remaining": rlErr.Remaining,
			"reset_at":  rlErr.ResetAt,
		})
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
