package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/telemetry/internal/keylock"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/smallbiznis/telemetry/internal/sample/liveevents"
	"github.com/smallbiznis/telemetry/internal/sample/validator"
	pkgdb "github.com/smallbiznis/telemetry/pkg/db"
)

type ValidationError struct {
	Index   *int   `json:"index,omitempty"`
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
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
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

	if sErr, ok := validator.AsValidationError(err); ok {
		item := ValidationError{
			Field:   sErr.Field,
			Code:    sErr.Code,
			Message: sErr.Error(),
		}
		if sErr.Index >= 0 {
			index := sErr.Index
			item.Index = &index
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{item},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	var storageErr *pkgdb.StorageError

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, keylock.ErrLockTimeout),
		errors.Is(err, liveevents.ErrHubUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.As(err, &storageErr) && pkgdb.IsRetryableErr(storageErr.Err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "storage busy, retry later",
		}
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, errorPayload{
			Type:    "storage_error",
			Message: "storage unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, sampledomain.ErrInvalidCounterName),
		errors.Is(err, sampledomain.ErrInvalidFilter),
		errors.Is(err, resourcedomain.ErrInvalidFilter),
		errors.Is(err, resourcedomain.ErrInvalidResource),
		errors.Is(err, liveevents.ErrInvalidCounterName):
		return true
	default:
		return false
	}
}

// A link that does not point at a resource cannot be dereferenced.
func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, resourcedomain.ErrNotFound),
		errors.Is(err, resourcedomain.ErrInvalidLink):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, sampledomain.ErrInvalidCounterName),
		errors.Is(err, liveevents.ErrInvalidCounterName):
		return "counter_name"
	case errors.Is(err, resourcedomain.ErrInvalidResource):
		return "resource_id"
	case errors.Is(err, sampledomain.ErrInvalidFilter),
		errors.Is(err, resourcedomain.ErrInvalidFilter):
		return "q"
	default:
		return "request"
	}
}

// classifyErrorForLog reports the response type and code the error maps to.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
