package worker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/broker"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type attemptWriter interface {
	InsertBatch(ctx context.Context, attempts []*model.QuizAttempt) error
	Insert(ctx context.Context, a *model.QuizAttempt) error
}

// AttemptWorker persists graded attempts and announces them on the broker
// once they are durable.
type AttemptWorker struct {
	repo      attemptWriter
	publisher broker.Publisher
	rdb       *redis.Client
	log       zerolog.Logger
}

func NewAttemptWorker(repo *repository.AttemptRepository, publisher broker.Publisher, rdb *redis.Client, log zerolog.Logger) *AttemptWorker {
	return &AttemptWorker{
		repo:      repo,
		publisher: publisher,
		rdb:       rdb,
		log:       log.With().Str("component", "attempt_worker").Logger(),
	}
}

func (w *AttemptWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptWorker started")
	drain(ctx, w.rdb, w.log, config.WorkerKey.PersistAttemptsQueue, decodeAttempt, w.flush)
}

func decodeAttempt(raw string) (*model.QuizAttempt, error) {
	var a model.QuizAttempt
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// flush inserts the batch in one transaction, falling back to single
// inserts. Attempts that could not be stored are returned for requeueing.
func (w *AttemptWorker) flush(ctx context.Context, batch []*model.QuizAttempt) []*model.QuizAttempt {
	err := w.repo.InsertBatch(ctx, batch)
	if err == nil {
		w.publish(ctx, batch)
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk attempt insert failed, using fallback")

	var failed, stored []*model.QuizAttempt
	for _, a := range batch {
		if err := w.repo.Insert(ctx, a); err != nil {
			w.log.Error().Err(err).Str("session_id", a.SessionID.String()).Msg("Attempt insert failed, requeueing")
			failed = append(failed, a)
			continue
		}
		stored = append(stored, a)
	}
	w.publish(ctx, stored)
	return failed
}

func (w *AttemptWorker) publish(ctx context.Context, attempts []*model.QuizAttempt) {
	for _, a := range attempts {
		if err := w.publisher.PublishAttempt(ctx, a); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to publish attempt event")
		}
	}
}
