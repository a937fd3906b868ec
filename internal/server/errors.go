package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waiterless/internal/errs"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrRateLimited         = errors.New("rate_limited")
	ErrServiceUnavailable  = errors.New("service_unavailable")
	ErrDuplicateSubmission = errs.New(errs.ErrConflict, "duplicate_submission")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many orders, retry shortly",
		}
	case errors.Is(err, errs.ErrInvalidRequest):
		code := errs.Code(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    errs.Code(err),
			Message: "not found",
		}
	case errors.Is(err, errs.ErrTenantInactive):
		return http.StatusForbidden, errorPayload{
			Type:    "tenant_inactive",
			Message: "this cafe is not accepting orders right now",
		}
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_transition",
			Message: "the order cannot move to that step from its current status",
		}
	case errors.Is(err, errs.ErrStaleVersion):
		return http.StatusConflict, errorPayload{
			Type:    "stale_version",
			Message: "the order was updated by someone else, refresh and try again",
		}
	case errors.Is(err, errs.ErrTableOccupied):
		return http.StatusConflict, errorPayload{
			Type:    "table_occupied",
			Message: "this table already has an open order",
		}
	case errors.Is(err, errs.ErrReplayGapDetected):
		return http.StatusGone, errorPayload{
			Type:    "replay_gap_detected",
			Message: "missed events are no longer available, reload the current state",
		}
	case errors.Is(err, errs.ErrStorageUnavailable),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service temporarily unavailable, retry shortly",
		}
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    errs.Code(err),
			Message: "conflict",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil {
		return "validation_error", "invalid_request"
	}
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited", "rate_limited"
	}
	return errs.Kind(err), errs.Code(err)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "empty_order":
		return "line_items"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if field, ok := strings.CutSuffix(code, "_required"); ok {
		return field
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "empty_order":
		return "an order needs at least one line item"
	}
	if strings.HasSuffix(code, "_required") {
		return "value is required"
	}
	return "invalid value"
}
