package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// failProctor maps engine and service errors onto the API envelope.
func failProctor(c *gin.Context, err error) {
	if fields, ok := validator.PolicyFields(err); ok {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPolicy, fields)
		return
	}

	switch {
	case errors.Is(err, proctor.ErrUnknownSession):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotSessionOwner)
	case errors.Is(err, proctor.ErrSessionCompleted):
		response.Fail(c, http.StatusConflict, response.ErrSessionCompleted)
	case errors.Is(err, proctor.ErrConflict):
		response.Fail(c, http.StatusConflict, response.ErrSessionConflict)
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// uuidParam parses a path parameter, writing INVALID_ID on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
