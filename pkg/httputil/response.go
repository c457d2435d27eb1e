package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/validator"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

var codeNames = map[errors.ErrorCode]string{
	errors.ErrNotFound:     "NOT_FOUND",
	errors.ErrBadRequest:   "BAD_REQUEST",
	errors.ErrUnauthorized: "UNAUTHORIZED",
	errors.ErrForbidden:    "FORBIDDEN",
	errors.ErrInternal:     "INTERNAL",
	errors.ErrConflict:     "CONFLICT",
	errors.ErrInvalidState: "INVALID_STATE",
	errors.ErrValidation:   "VALIDATION",

	errors.ErrTooManyRequests: "TOO_MANY_REQUESTS",
	errors.ErrPayloadTooLarge: "PAYLOAD_TOO_LARGE",
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithError sends an error response
func RespondWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"
	code := codeNames[errors.ErrInternal]

	if appErr, ok := errors.As(err); ok {
		statusCode = appErr.StatusCode()
		code = codeNames[appErr.Code]
		if appErr.Code != errors.ErrInternal {
			message = appErr.Message
		}
	}

	if statusCode >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Msg("request failed")
	}

	c.AbortWithStatusJSON(statusCode, Response{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

// RespondWithValidationError renders a binding failure as a 400
func RespondWithValidationError(c *gin.Context, err error) {
	RespondWithError(c, errors.Validation(validator.Describe(err), err))
}
