package handler

import (
	"errors"
	"net/http"

	"nytax/internal/middleware"
	"nytax/internal/service"
	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// statusFor maps a service error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "validation_error":
		return http.StatusBadRequest
	case "out_of_coverage", "no_effective_rate":
		return http.StatusUnprocessableEntity
	case "rate_conflict", "duplicate_import", "not_revertible":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "unauthorized":
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status and code derived from its kind. Internal errors are
// recorded on the context for the request logger and hidden from the client.
func respondError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}

	var dup *service.DuplicateImportError
	if errors.As(err, &dup) {
		c.JSON(status, response.ErrorWithData(status, code, msg, gin.H{"import_id": dup.ExistingID.String()}))
		return
	}
	c.JSON(status, response.ErrorWithCode(status, code, msg))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest, "validation_error", msg))
}

// uuidParam parses the named path parameter, writing a 400 when it is not a uuid.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name+": must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

// actor returns the authenticated user id, or nil for unauthenticated routes.
func actor(c *gin.Context) *uuid.UUID {
	sub, _ := c.Get(middleware.ContextUserID)
	return service.ParseActor(sub)
}
