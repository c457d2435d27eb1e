// Package handler holds helpers shared by the HTTP handlers in its sub-packages.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

// ParamUUID parses a path parameter, answering 400 when it is not a UUID.
func ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

// Identity returns the authenticated caller, answering 401 when absent.
func Identity(c *gin.Context) (model.Identity, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("no identity in context")))
		return model.Identity{}, false
	}
	return identity, true
}

// BindJSON decodes and validates the body, answering 400 on failure.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondWithError(c, apperrors.PayloadTooLarge(tooLarge.Limit))
			return false
		}
		httputil.RespondWithValidationError(c, err)
		return false
	}
	return true
}

// BindQuery decodes and validates query parameters, answering 400 on failure.
func BindQuery(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		httputil.RespondWithValidationError(c, err)
		return false
	}
	return true
}
