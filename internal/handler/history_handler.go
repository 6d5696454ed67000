package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// HistoryHandler serves attempt summaries to teachers.
type HistoryHandler struct {
	historyService *service.HistoryService
	log            zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(historyService *service.HistoryService, log zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
		log:            log.With().Str("component", "history_handler").Logger(),
	}
}

// QuizHistory godoc
// GET /api/v1/teacher/quizzes/:quiz_id/history
func (h *HistoryHandler) QuizHistory(c *gin.Context) {
	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	summary, err := h.historyService.QuizHistory(c.Request.Context(), quizID)
	if err != nil {
		h.log.Error().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to summarize quiz history")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// StudentHistory godoc
// GET /api/v1/teacher/students/:user_id/history
func (h *HistoryHandler) StudentHistory(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || userID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	summary, err := h.historyService.StudentHistory(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int("user_id", userID).Msg("Failed to summarize student history")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, summary)
}
