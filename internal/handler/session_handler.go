package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler handles the student side of a proctored quiz.
type SessionHandler struct {
	proctorService *service.ProctorService
	historyService *service.HistoryService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(proctorService *service.ProctorService, historyService *service.HistoryService) *SessionHandler {
	return &SessionHandler{
		proctorService: proctorService,
		historyService: historyService,
	}
}

// eventResponse is the result of one integrity event.
type eventResponse struct {
	Session      *model.ProctoringSession `json:"session"`
	Violation    *model.Violation         `json:"violation,omitempty"`
	Disqualified bool                     `json:"disqualified"`
	Attempt      *model.QuizAttempt       `json:"attempt,omitempty"`
	Ignored      bool                     `json:"ignored"`
}

// StartSession godoc
// POST /api/v1/student/quizzes/:quiz_id/sessions
// Opens a session, or returns the student's open one (idempotent).
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	student := claims.Student()
	if req.Name != "" {
		student.Name = req.Name
	}
	if req.Email != "" {
		student.Email = req.Email
	}

	session, created, err := h.proctorService.Start(c.Request.Context(), quizID, student)
	if err != nil {
		failProctor(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"session": session, "created": created})
}

// GetSession godoc
// GET /api/v1/student/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	session, err := h.proctorService.Get(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failProctor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// RecordEvent godoc
// POST /api/v1/student/sessions/:session_id/events
// Applies a tab_change, time_away or refresh event. Events for unknown
// sessions are acknowledged with 202 and ignored=true.
func (h *SessionHandler) RecordEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	var req model.EventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx, cancel := service.WithEventTimeout(c.Request.Context())
	defer cancel()

	out, err := h.proctorService.RecordEvent(ctx, sessionID, claims.UserID, req)
	if err != nil {
		failProctor(c, err)
		return
	}

	code := http.StatusOK
	if out.Ignored {
		code = http.StatusAccepted
	}
	response.Success(c, code, eventResponse{
		Session:      out.Session,
		Violation:    out.Violation,
		Disqualified: out.Disqualified,
		Attempt:      out.Attempt,
		Ignored:      out.Ignored,
	})
}

// SaveAnswer godoc
// PUT /api/v1/student/sessions/:session_id/answers/:index
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"index": "index must be a non-negative integer"})
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if _, err := h.proctorService.SaveAnswer(c.Request.Context(), sessionID, claims.UserID, index, req.Answer); err != nil {
		failProctor(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"index": index, "saved": true})
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Grades and closes the session. Resubmitting returns the original
// attempt with SESSION_COMPLETED.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	attempt, err := h.proctorService.Submit(c.Request.Context(), sessionID, claims.UserID)
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

// MyHistory godoc
// GET /api/v1/student/history
func (h *SessionHandler) MyHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	summary, err := h.historyService.StudentHistory(c.Request.Context(), claims.UserID)
	if err != nil {
		failProctor(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}
