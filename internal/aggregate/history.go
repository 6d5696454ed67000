package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RecentAttemptsLimit bounds how many attempts a summary lists.
const RecentAttemptsLimit = 10

// HasIntegrityIssues reports whether an attempt shows any integrity event
// at all. It is looser than disqualification.
func HasIntegrityIssues(a model.QuizAttempt) bool {
	return a.Disqualified || a.TabChangeCount > 0 || a.TimeAwaySeconds > 0 || a.RefreshDetected
}

// Summarize computes count, mean and best percentage over attempts. An
// empty input yields a zero summary. The input slice is not reordered.
func Summarize(attempts []model.QuizAttempt) model.HistorySummary {
	sum := model.HistorySummary{RecentAttempts: []model.AttemptItem{}}
	if len(attempts) == 0 {
		return sum
	}

	total := decimal.Zero
	best := attempts[0].Percentage
	for _, a := range attempts {
		total = total.Add(decimal.NewFromFloat(a.Percentage))
		if a.Percentage > best {
			best = a.Percentage
		}
		if HasIntegrityIssues(a) {
			sum.FlaggedAttempts++
		}
	}

	sum.TotalQuizzes = len(attempts)
	// Plain mean; rounding is left to the reporting UI.
	sum.AverageScore, _ = total.Div(decimal.NewFromInt(int64(len(attempts)))).Float64()
	sum.BestScore = best

	recent := make([]model.QuizAttempt, len(attempts))
	copy(recent, attempts)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CompletedAt.After(recent[j].CompletedAt)
	})
	if len(recent) > RecentAttemptsLimit {
		recent = recent[:RecentAttemptsLimit]
	}
	for _, a := range recent {
		sum.RecentAttempts = append(sum.RecentAttempts, model.AttemptItem{
			QuizAttempt:        a,
			HasIntegrityIssues: HasIntegrityIssues(a),
		})
	}
	return sum
}
