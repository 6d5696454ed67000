package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository reads quiz answer keys.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByQuiz retrieves all questions for a quiz ordered by position. The
// slice index is the question index answers are keyed by.
func (r *QuestionRepository) ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, quiz_id, position, question_type, question_text, choices, answer
		 FROM questions WHERE quiz_id = $1
		 ORDER BY position`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]model.Question, 0)
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Position, &q.QuestionType, &q.QuestionText, &q.Choices, &q.Answer); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
