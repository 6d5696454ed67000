package model

import (
	"time"

	"github.com/google/uuid"
)

// QuizAttempt is the terminal, graded record of a session. It is never
// modified after it is written.
type QuizAttempt struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"session_id"`
	QuizID           uuid.UUID        `json:"quiz_id"`
	UserID           int              `json:"user_id"`
	Answers          map[int]string   `json:"answers"`
	Score            int              `json:"score"`
	TotalQuestions   int              `json:"total_questions"`
	Percentage       float64          `json:"percentage"`
	CompletedAt      time.Time        `json:"completed_at"`
	TimeSpentSeconds int              `json:"time_spent"`
	TabChangeCount   int              `json:"tab_change_count"`
	TimeAwaySeconds  int              `json:"time_away"`
	RefreshDetected  bool             `json:"refresh_detected"`
	Violations       []Violation      `json:"violations"`
	Disqualified     bool             `json:"disqualified"`
	CompletionReason CompletionReason `json:"completion_reason"`
}

// Clone returns a deep copy of the attempt.
func (a *QuizAttempt) Clone() *QuizAttempt {
	if a == nil {
		return nil
	}
	c := *a
	if a.Answers != nil {
		c.Answers = make(map[int]string, len(a.Answers))
		for k, v := range a.Answers {
			c.Answers[k] = v
		}
	}
	if a.Violations != nil {
		c.Violations = make([]Violation, len(a.Violations))
		copy(c.Violations, a.Violations)
	}
	return &c
}

// HistorySummary is the reporting output for a student or a quiz.
type HistorySummary struct {
	TotalQuizzes    int           `json:"total_quizzes"`
	AverageScore    float64       `json:"average_score"`
	BestScore       float64       `json:"best_score"`
	FlaggedAttempts int           `json:"flagged_attempts"`
	RecentAttempts  []AttemptItem `json:"recent_attempts"`
}

// AttemptItem is an attempt as listed in history views.
type AttemptItem struct {
	QuizAttempt
	HasIntegrityIssues bool `json:"has_integrity_issues"`
}
