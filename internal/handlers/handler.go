// Package handlers exposes the engine's HTTP API. Handlers translate
// between the wire formats and the service layer; all policy lives below.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/medgrid/exchange-engine/internal/models"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
)

// ActorIDKey is the gin context key carrying the authenticated caller ID,
// set by the router's identity middleware.
const ActorIDKey = "actorId"

// actorID returns the caller identity extracted by the middleware
func actorID(c *gin.Context) string {
	return c.GetString(ActorIDKey)
}

// respondError maps a service error to its stable code and HTTP status
func respondError(c *gin.Context, err error) {
	code := serviceerror.CodeFor(err)
	c.JSON(models.HTTPStatusForErrorCode(code), models.NewErrorResponse(code, err.Error(), ""))
}

// respondBadRequest renders a binding or validation failure
func respondBadRequest(c *gin.Context, err error) {
	c.JSON(models.HTTPStatusForErrorCode(models.ErrCodeBadRequest),
		models.NewErrorResponse(models.ErrCodeBadRequest, "invalid request body", err.Error()))
}
