package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationRecord is one row of the unbounded violation audit log.
type ViolationRecord struct {
	SessionID  uuid.UUID           `json:"session_id"`
	QuizID     uuid.UUID           `json:"quiz_id"`
	UserID     int                 `json:"user_id"`
	Type       model.ViolationType `json:"type"`
	Details    string              `json:"details"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// ViolationRepository writes and reads the session_violations audit log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyBatch bulk-inserts records with COPY.
func (r *ViolationRepository) CopyBatch(ctx context.Context, records []ViolationRecord) error {
	rows := make([][]any, 0, len(records))
	for _, v := range records {
		rows = append(rows, []any{v.SessionID, v.QuizID, v.UserID, string(v.Type), v.Details, v.RecordedAt})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"session_violations"},
		[]string{"session_id", "quiz_id", "user_id", "violation_type", "details", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert stores a single record.
func (r *ViolationRepository) Insert(ctx context.Context, v ViolationRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_violations (session_id, quiz_id, user_id, violation_type, details, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.SessionID, v.QuizID, v.UserID, string(v.Type), v.Details, v.RecordedAt,
	)
	return err
}

// ListBySession returns the complete audit log of a session in timestamp order.
func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, quiz_id, user_id, violation_type, details, recorded_at
		 FROM session_violations WHERE session_id = $1
		 ORDER BY recorded_at, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]ViolationRecord, 0)
	for rows.Next() {
		var v ViolationRecord
		if err := rows.Scan(&v.SessionID, &v.QuizID, &v.UserID, &v.Type, &v.Details, &v.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, v)
	}
	return records, rows.Err()
}
