package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// HistoryLimit caps how many attempts a history query loads.
const HistoryLimit = 500

const attemptColumns = `id, session_id, quiz_id, user_id, answers, score, total_questions, percentage,
	completed_at, time_spent_seconds, tab_change_count, time_away_seconds, refresh_detected,
	violations, disqualified, completion_reason`

const insertAttemptSQL = `INSERT INTO quiz_attempts (` + attemptColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (session_id) DO NOTHING`

// AttemptRepository handles graded attempt rows. Attempts are written once
// and never updated.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func attemptArgs(a *model.QuizAttempt) []any {
	answers := a.Answers
	if answers == nil {
		answers = map[int]string{}
	}
	violations := a.Violations
	if violations == nil {
		violations = []model.Violation{}
	}
	return []any{
		a.ID, a.SessionID, a.QuizID, a.UserID, answers, a.Score, a.TotalQuestions, a.Percentage,
		a.CompletedAt, a.TimeSpentSeconds, a.TabChangeCount, a.TimeAwaySeconds, a.RefreshDetected,
		violations, a.Disqualified, a.CompletionReason,
	}
}

// Insert stores one attempt. A second attempt for the same session is
// silently skipped.
func (r *AttemptRepository) Insert(ctx context.Context, a *model.QuizAttempt) error {
	_, err := r.pool.Exec(ctx, insertAttemptSQL, attemptArgs(a)...)
	return err
}

// InsertBatch stores attempts in one transaction.
func (r *AttemptRepository) InsertBatch(ctx context.Context, attempts []*model.QuizAttempt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, a := range attempts {
		batch.Queue(insertAttemptSQL, attemptArgs(a)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert attempts: %w", err)
	}
	return tx.Commit(ctx)
}

// ListByUser returns a student's attempts, newest first.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID int) ([]model.QuizAttempt, error) {
	return r.list(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 ORDER BY completed_at DESC LIMIT $2`, userID, HistoryLimit)
}

// ListByQuiz returns a quiz's attempts, newest first.
func (r *AttemptRepository) ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]model.QuizAttempt, error) {
	return r.list(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE quiz_id = $1 ORDER BY completed_at DESC LIMIT $2`, quizID, HistoryLimit)
}

// GetBySession returns the attempt for a session.
func (r *AttemptRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.QuizAttempt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAttempt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) list(ctx context.Context, sql string, args ...any) ([]model.QuizAttempt, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAttempt)
}

func scanAttempt(row pgx.CollectableRow) (model.QuizAttempt, error) {
	var a model.QuizAttempt
	err := row.Scan(&a.ID, &a.SessionID, &a.QuizID, &a.UserID, &a.Answers, &a.Score, &a.TotalQuestions, &a.Percentage,
		&a.CompletedAt, &a.TimeSpentSeconds, &a.TabChangeCount, &a.TimeAwaySeconds, &a.RefreshDetected,
		&a.Violations, &a.Disqualified, &a.CompletionReason)
	return a, err
}
