package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// PolicyHandler serves a quiz's anti-cheat settings and answer key cache.
type PolicyHandler struct {
	quizService *service.QuizService
	log         zerolog.Logger
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(quizService *service.QuizService, log zerolog.Logger) *PolicyHandler {
	return &PolicyHandler{
		quizService: quizService,
		log:         log.With().Str("component", "policy_handler").Logger(),
	}
}

// GetPolicy godoc
// GET /api/v1/teacher/quizzes/:quiz_id/policy
// Returns the stored policy, or the defaults when none has been saved.
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	qp, err := h.quizService.GetPolicy(c.Request.Context(), quizID)
	if err != nil {
		h.log.Error().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to load policy")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"policy": qp})
}

// UpdatePolicy godoc
// PUT /api/v1/teacher/quizzes/:quiz_id/policy
// Saves a policy. Negative thresholds are rejected with INVALID_POLICY.
func (h *PolicyHandler) UpdatePolicy(c *gin.Context) {
	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	var req model.UpdatePolicyRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	qp, err := h.quizService.UpdatePolicy(c.Request.Context(), quizID, req.ToPolicy())
	if err != nil {
		failProctor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"policy": qp})
}

// RefreshAnswerKey godoc
// POST /api/v1/teacher/quizzes/:quiz_id/answer-key/refresh
// Drops the cached answer key so the next grading reloads it.
func (h *PolicyHandler) RefreshAnswerKey(c *gin.Context) {
	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	if err := h.quizService.InvalidateAnswerKey(c.Request.Context(), quizID); err != nil {
		h.log.Error().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to drop answer key cache")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"refreshed": true})
}
