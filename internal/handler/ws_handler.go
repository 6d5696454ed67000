package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams integrity events and autosaves from a student's
// quiz page over one WebSocket.
type WSHandler struct {
	proctorService *service.ProctorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(proctorService *service.ProctorService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		proctorService: proctorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Actions: violation, autosave, submit, ping.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	// Reject before upgrading so the client gets a real HTTP status.
	if _, err := h.proctorService.Get(c.Request.Context(), sessionID, claims.UserID); err != nil {
		failProctor(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		// Each message gets its own deadline, detached from the upgrade request.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		done := h.dispatch(ctx, conn, wsLog, sessionID, claims.UserID, &msg)
		cancel()
		if done {
			return
		}
	}
}

// dispatch handles one client message and reports whether the stream
// should close.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, userID int, msg *ws.RequestPayload) bool {
	switch msg.Action {
	case ws.ActionViolation:
		if !msg.Type.Valid() {
			ws.WriteError(conn, "type must be one of tab_change, time_away, refresh")
			return false
		}
		out, err := h.proctorService.RecordEvent(ctx, sessionID, userID, msg.EventRequest())
		if err != nil {
			wsLog.Error().Err(err).Msg("Record event failed")
			ws.WriteError(conn, "record failed")
			return false
		}
		ws.WriteTyped(conn, ws.NewRecordedResponse(out.Session, out.Ignored, out.Attempt))
		return out.Attempt != nil

	case ws.ActionAutosave:
		if msg.Index == nil || *msg.Index < 0 {
			ws.WriteError(conn, "index is required")
			return false
		}
		if _, err := h.proctorService.SaveAnswer(ctx, sessionID, userID, *msg.Index, msg.Answer); err != nil {
			if errors.Is(err, proctor.ErrSessionCompleted) {
				ws.WriteError(conn, "session already completed")
				return true
			}
			wsLog.Error().Err(err).Msg("Autosave failed")
			ws.WriteError(conn, "save failed")
			return false
		}
		ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Index: *msg.Index})
		return false

	case ws.ActionSubmit:
		attempt, err := h.proctorService.Submit(ctx, sessionID, userID)
		if err != nil && !(errors.Is(err, proctor.ErrSessionCompleted) && attempt != nil) {
			wsLog.Error().Err(err).Msg("Submit failed")
			ws.WriteError(conn, "grading failed")
			return false
		}
		wsLog.Info().
			Int("score", attempt.Score).
			Int("total", attempt.TotalQuestions).
			Msg("Quiz submitted and graded")
		ws.WriteTyped(conn, ws.NewGradedResponse(attempt))
		return true

	case ws.ActionPing:
		ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		return false

	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		ws.WriteError(conn, "unknown action: "+string(msg.Action))
		return false
	}
}
