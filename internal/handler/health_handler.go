package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// HealthHandler reports dependency health and persistence backlog.
type HealthHandler struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb}
}

type healthStatus struct {
	Status          string `json:"status"`
	Postgres        string `json:"postgres"`
	Redis           string `json:"redis"`
	QueueViolations int64  `json:"queue_violations"`
	QueueAttempts   int64  `json:"queue_attempts"`
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{Status: "ok", Postgres: "ok", Redis: "ok"}

	if err := h.pool.Ping(ctx); err != nil {
		st.Status, st.Postgres = "degraded", err.Error()
	}

	// Pipelined LLEN doubles as the Redis ping.
	pipe := h.rdb.Pipeline()
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	attemptsCmd := pipe.LLen(ctx, config.WorkerKey.PersistAttemptsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		st.Status, st.Redis = "degraded", err.Error()
	} else {
		st.QueueViolations, _ = violationsCmd.Result()
		st.QueueAttempts, _ = attemptsCmd.Result()
	}

	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, st)
}
