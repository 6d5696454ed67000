package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ViolationPayload is the queue message for one recorded violation.
type ViolationPayload struct {
	SessionID string `json:"session_id"`
	QuizID    string `json:"quiz_id"`
	UserID    int    `json:"user_id"`
	Type      string `json:"type"`
	Details   string `json:"details,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Record converts the payload into an audit log row.
func (p *ViolationPayload) Record() (repository.ViolationRecord, error) {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return repository.ViolationRecord{}, fmt.Errorf("session_id: %w", err)
	}
	quizID, err := uuid.Parse(p.QuizID)
	if err != nil {
		return repository.ViolationRecord{}, fmt.Errorf("quiz_id: %w", err)
	}
	return repository.ViolationRecord{
		SessionID:  sessionID,
		QuizID:     quizID,
		UserID:     p.UserID,
		Type:       model.ViolationType(p.Type),
		Details:    p.Details,
		RecordedAt: time.UnixMilli(p.Timestamp).UTC(),
	}, nil
}

type violationWriter interface {
	CopyBatch(ctx context.Context, records []repository.ViolationRecord) error
	Insert(ctx context.Context, v repository.ViolationRecord) error
}

// ViolationWorker persists the violation audit log.
type ViolationWorker struct {
	repo violationWriter
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(repo *repository.ViolationRepository, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	drain(ctx, w.rdb, w.log, config.WorkerKey.PersistViolationsQueue, decodeViolation, w.flush)
}

func decodeViolation(raw string) (*ViolationPayload, error) {
	var p ViolationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// flush attempts a COPY, then falls back to row-by-row inserts. Rows that
// still fail are returned for requeueing; rows with bad ids are dropped.
func (w *ViolationWorker) flush(ctx context.Context, batch []*ViolationPayload) []*ViolationPayload {
	records := make([]repository.ViolationRecord, 0, len(batch))
	valid := make([]*ViolationPayload, 0, len(batch))
	for _, p := range batch {
		rec, err := p.Record()
		if err != nil {
			w.log.Error().Err(err).Str("session_id", p.SessionID).Msg("Dropping violation with invalid id")
			continue
		}
		records = append(records, rec)
		valid = append(valid, p)
	}
	if len(records) == 0 {
		return nil
	}

	err := w.repo.CopyBatch(ctx, records)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(records)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []*ViolationPayload
	for i, rec := range records {
		if err := w.repo.Insert(ctx, rec); err != nil {
			w.log.Error().Err(err).Str("session_id", valid[i].SessionID).Msg("Insert failed, requeueing")
			failed = append(failed, valid[i])
		}
	}
	return failed
}
