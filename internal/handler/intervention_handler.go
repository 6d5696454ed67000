package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// InterventionHandler lets teachers act on a running session.
type InterventionHandler struct {
	proctorService *service.ProctorService
}

// NewInterventionHandler creates a new InterventionHandler.
func NewInterventionHandler(proctorService *service.ProctorService) *InterventionHandler {
	return &InterventionHandler{proctorService: proctorService}
}

// ForceSubmit godoc
// POST /api/v1/teacher/sessions/:session_id/force-submit
// Grades whatever the student has saved and closes the session. Also
// completes disqualified sessions whose policy does not auto-submit.
func (h *InterventionHandler) ForceSubmit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	attempt, err := h.proctorService.ForceSubmit(c.Request.Context(), sessionID, claims.UserID)
	if errors.Is(err, proctor.ErrSessionCompleted) && attempt != nil {
		response.SuccessWithError(c, http.StatusOK, gin.H{"attempt": attempt}, response.ErrSessionCompleted)
		return
	}
	if err != nil {
		failProctor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// Disqualify godoc
// POST /api/v1/teacher/sessions/:session_id/disqualify
func (h *InterventionHandler) Disqualify(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	var req model.DisqualifyRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	out, err := h.proctorService.Disqualify(c.Request.Context(), sessionID, claims.UserID, req.Reason)
	if err != nil {
		failProctor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":      out.Session.View(),
		"disqualified": out.Session.Disqualified,
		"attempt":      out.Attempt,
	})
}
