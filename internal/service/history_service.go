package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/aggregate"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type attemptLister interface {
	ListByUser(ctx context.Context, userID int) ([]model.QuizAttempt, error)
	ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]model.QuizAttempt, error)
}

// HistoryService summarizes persisted attempts.
type HistoryService struct {
	attempts attemptLister
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(attempts attemptLister) *HistoryService {
	return &HistoryService{attempts: attempts}
}

// StudentHistory summarizes every attempt of a student.
func (s *HistoryService) StudentHistory(ctx context.Context, userID int) (model.HistorySummary, error) {
	attempts, err := s.attempts.ListByUser(ctx, userID)
	if err != nil {
		return model.HistorySummary{}, err
	}
	return aggregate.Summarize(attempts), nil
}

// QuizHistory summarizes every attempt of a quiz.
func (s *HistoryService) QuizHistory(ctx context.Context, quizID uuid.UUID) (model.HistorySummary, error) {
	attempts, err := s.attempts.ListByQuiz(ctx, quizID)
	if err != nil {
		return model.HistorySummary{}, err
	}
	return aggregate.Summarize(attempts), nil
}
