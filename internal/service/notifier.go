package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/aggregate"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// MonitorEvent is the pub/sub payload pushed to live monitors whenever a
// session changes.
type MonitorEvent struct {
	Type string                `json:"type"`
	Data aggregate.LiveSession `json:"data"`
}

// Notifier fans committed session changes out to the persistence queues,
// the monitor pub/sub channel and the metrics.
type Notifier struct {
	rdb     *redis.Client
	metrics *metrics.Metrics
	log     zerolog.Logger
}

var _ proctor.Observer = (*Notifier)(nil)

// NewNotifier creates a new Notifier.
func NewNotifier(rdb *redis.Client, m *metrics.Metrics, log zerolog.Logger) *Notifier {
	return &Notifier{
		rdb:     rdb,
		metrics: m,
		log:     log.With().Str("component", "notifier").Logger(),
	}
}

// SessionChanged publishes the session's new read model to its quiz's
// monitor channel.
func (n *Notifier) SessionChanged(ctx context.Context, s *model.ProctoringSession) {
	payload, err := json.Marshal(MonitorEvent{
		Type: "session",
		Data: aggregate.LiveSession{SessionView: s.View(), DisplayStatus: aggregate.Classify(s)},
	})
	if err != nil {
		return
	}
	channel := config.CacheKey.QuizMonitorChannel(s.QuizID.String())
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		n.log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("Failed to publish monitor event")
	}
}

// ViolationRecorded queues the violation for the audit log.
func (n *Notifier) ViolationRecorded(ctx context.Context, s *model.ProctoringSession, v model.Violation) {
	n.metrics.Violation(string(v.Type))

	data, err := json.Marshal(worker.ViolationPayload{
		SessionID: s.ID.String(),
		QuizID:    s.QuizID.String(),
		UserID:    s.UserID,
		Type:      string(v.Type),
		Details:   v.Details,
		Timestamp: v.Timestamp.UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := n.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err(); err != nil {
		n.metrics.QueueFailure("violations")
		n.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Failed to queue violation")
	}
}

// AttemptCompleted queues the attempt for persistence.
func (n *Notifier) AttemptCompleted(ctx context.Context, s *model.ProctoringSession, a *model.QuizAttempt) {
	n.metrics.AttemptGraded(string(a.CompletionReason), a.Disqualified)

	data, err := json.Marshal(a)
	if err != nil {
		n.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to encode attempt")
		return
	}

	// Retry once, detached from the request context.
	if err := n.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, data).Err(); err != nil {
		retryCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := n.rdb.RPush(retryCtx, config.WorkerKey.PersistAttemptsQueue, data).Err(); err != nil {
			n.metrics.QueueFailure("attempts")
			n.log.Error().Err(err).
				Str("attempt_id", a.ID.String()).
				Str("session_id", s.ID.String()).
				Msg("CRITICAL: Failed to queue attempt for persistence")
		}
	}
}
