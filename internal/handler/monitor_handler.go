package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// refreshTimeout keeps a slow store from stalling the SSE loop.
const refreshTimeout = 5 * time.Second

type MonitorHandler struct {
	rdb               *redis.Client
	monitorService    *service.MonitorService
	refreshInterval   time.Duration
	keepAliveInterval time.Duration
	log               zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	monitorService *service.MonitorService,
	refreshInterval time.Duration,
	keepAliveInterval time.Duration,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:               rdb,
		monitorService:    monitorService,
		refreshInterval:   refreshInterval,
		keepAliveInterval: keepAliveInterval,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

// Live godoc
// GET /api/v1/teacher/quizzes/:quiz_id/live
// Polling snapshot of every non-completed session with rollup counts.
func (h *MonitorHandler) Live(c *gin.Context) {
	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	report, err := h.monitorService.Live(c.Request.Context(), quizID)
	if err != nil {
		h.log.Error().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to build live report")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// LiveStream godoc
// GET /api/v1/teacher/quizzes/:quiz_id/live/stream
// SSE: a snapshot on connect, every session change as it is committed,
// and a fresh snapshot every refresh interval.
func (h *MonitorHandler) LiveStream(c *gin.Context) {
	quizID, ok := uuidParam(c, "quiz_id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, quizID)

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.QuizMonitorChannel(quizID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(h.keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("quiz_id", quizID.String()).Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("quiz_id", quizID.String()).Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON, it is already a service.MonitorEvent.
			writeSSEData(c, []byte(msg.Payload))

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, quizID)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// sendSnapshot writes the full live report as one SSE message.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, quizID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	report, err := h.monitorService.Live(ctx, quizID)
	if err != nil {
		h.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to build live snapshot")
		return
	}

	c.SSEvent("message", gin.H{"type": "snapshot", "data": report})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// ViolationLog godoc
// GET /api/v1/teacher/sessions/:session_id/violations
// Full persisted violation history, beyond the dashboard's tail.
func (h *MonitorHandler) ViolationLog(c *gin.Context) {
	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	records, err := h.monitorService.ViolationLog(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load violation log")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"violations": records})
}
