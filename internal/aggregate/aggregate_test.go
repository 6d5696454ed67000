package aggregate

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func session(mutate func(s *model.ProctoringSession)) *model.ProctoringSession {
	s := &model.ProctoringSession{
		ID:      uuid.New(),
		UserID:  1,
		Status:  model.SessionStatusActive,
		Policy:  model.DefaultPolicy(),
		Answers: map[int]string{},
	}
	if mutate != nil {
		mutate(s)
	}
	return s
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		s    *model.ProctoringSession
		want DisplayStatus
	}{
		{"clean", session(nil), DisplayActive},
		{"tab change", session(func(s *model.ProctoringSession) { s.TabChangeCount = 1 }), DisplayViolations},
		{"away at heuristic", session(func(s *model.ProctoringSession) { s.TimeAwaySeconds = 5 }), DisplayActive},
		{"away over heuristic", session(func(s *model.ProctoringSession) { s.TimeAwaySeconds = 6 }), DisplayViolations},
		{"logged refresh", session(func(s *model.ProctoringSession) {
			s.Violations = []model.Violation{{Type: model.ViolationRefresh}}
		}), DisplayViolations},
		{"disqualified", session(func(s *model.ProctoringSession) {
			s.Disqualified = true
			s.TabChangeCount = 9
		}), DisplayDisqualified},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.s); got != tc.want {
				t.Errorf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestListActiveEmpty(t *testing.T) {
	report := ListActive(nil)
	if len(report.Sessions) != 0 || report.Rollup != (Rollup{}) {
		t.Fatalf("empty report = %+v", report)
	}
}

func TestListActiveRollup(t *testing.T) {
	sessions := []*model.ProctoringSession{
		session(nil),
		session(nil),
		session(func(s *model.ProctoringSession) { s.TabChangeCount = 2 }),
		session(func(s *model.ProctoringSession) {
			s.Disqualified = true
			s.Status = model.SessionStatusDisqualified
		}),
		session(func(s *model.ProctoringSession) { s.Status = model.SessionStatusCompleted }),
		session(func(s *model.ProctoringSession) {
			s.Disqualified = true
			s.Status = model.SessionStatusCompleted
		}),
	}

	report := ListActive(sessions)

	want := Rollup{Total: 5, Clean: 2, Flagged: 1, Disqualified: 2}
	if report.Rollup != want {
		t.Fatalf("Rollup = %+v, want %+v", report.Rollup, want)
	}
	if len(report.Sessions) != 5 {
		t.Fatalf("sessions = %d, want 5", len(report.Sessions))
	}
}

func TestListActiveIsReadOnly(t *testing.T) {
	sessions := []*model.ProctoringSession{
		session(func(s *model.ProctoringSession) {
			for i := 0; i < 30; i++ {
				s.Violations = append(s.Violations, model.Violation{Type: model.ViolationTabChange})
			}
			s.TabChangeCount = 30
		}),
		session(nil),
	}
	before := make([]*model.ProctoringSession, len(sessions))
	for i, s := range sessions {
		before[i] = s.Clone()
	}

	first := ListActive(sessions)
	second := ListActive(sessions)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated ListActive calls differ")
	}
	for i := range sessions {
		if !reflect.DeepEqual(sessions[i], before[i]) {
			t.Fatalf("session %d was mutated", i)
		}
	}
	if got := first.Sessions[0].ViolationCount; got != 30 {
		t.Errorf("ViolationCount = %d, want 30", got)
	}
	if got := len(first.Sessions[0].Violations); got != model.ViolationDisplayLimit {
		t.Errorf("shown violations = %d, want %d", got, model.ViolationDisplayLimit)
	}
}

func TestListActiveConverges(t *testing.T) {
	s := session(func(s *model.ProctoringSession) { s.TabChangeCount = 3 })
	if got := ListActive([]*model.ProctoringSession{s}).Sessions[0].DisplayStatus; got != DisplayViolations {
		t.Fatalf("tick 1 = %s", got)
	}

	next := s.Clone()
	next.TabChangeCount = 4
	next.Disqualified = true
	next.Status = model.SessionStatusDisqualified
	if got := ListActive([]*model.ProctoringSession{next}).Sessions[0].DisplayStatus; got != DisplayDisqualified {
		t.Fatalf("tick 2 = %s", got)
	}
}

func TestSummarizeAverageIsUnrounded(t *testing.T) {
	sum := Summarize([]model.QuizAttempt{{Percentage: 33.3}, {Percentage: 33.4}})
	if sum.AverageScore != 33.35 {
		t.Errorf("AverageScore = %v, want 33.35", sum.AverageScore)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil)
	if sum.TotalQuizzes != 0 || sum.AverageScore != 0 || sum.BestScore != 0 {
		t.Fatalf("Summarize(nil) = %+v", sum)
	}
	if sum.RecentAttempts == nil {
		t.Error("RecentAttempts should be an empty slice")
	}
}

func TestSummarize(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	attempts := []model.QuizAttempt{
		{Percentage: 50, CompletedAt: base},
		{Percentage: 75, CompletedAt: base.Add(time.Hour), TabChangeCount: 1},
		{Percentage: 100, CompletedAt: base.Add(2 * time.Hour)},
		{Percentage: 25, CompletedAt: base.Add(3 * time.Hour), Disqualified: true},
	}

	sum := Summarize(attempts)

	if sum.TotalQuizzes != 4 {
		t.Errorf("TotalQuizzes = %d, want 4", sum.TotalQuizzes)
	}
	if sum.AverageScore != 62.5 {
		t.Errorf("AverageScore = %v, want 62.5", sum.AverageScore)
	}
	if sum.BestScore != 100 {
		t.Errorf("BestScore = %v, want 100", sum.BestScore)
	}
	if sum.FlaggedAttempts != 2 {
		t.Errorf("FlaggedAttempts = %d, want 2", sum.FlaggedAttempts)
	}
	if sum.RecentAttempts[0].Percentage != 25 || !sum.RecentAttempts[0].HasIntegrityIssues {
		t.Errorf("most recent attempt = %+v", sum.RecentAttempts[0])
	}
	if attempts[0].Percentage != 50 {
		t.Error("input slice was reordered")
	}
}

func TestSummarizeRecentLimit(t *testing.T) {
	attempts := make([]model.QuizAttempt, 15)
	for i := range attempts {
		attempts[i] = model.QuizAttempt{Percentage: float64(i), CompletedAt: time.Unix(int64(i), 0)}
	}
	sum := Summarize(attempts)
	if len(sum.RecentAttempts) != RecentAttemptsLimit {
		t.Fatalf("recent = %d, want %d", len(sum.RecentAttempts), RecentAttemptsLimit)
	}
	if sum.RecentAttempts[0].Percentage != 14 {
		t.Errorf("first recent = %v, want 14", sum.RecentAttempts[0].Percentage)
	}
}

func TestIntegrityIssuesDifferFromDisqualification(t *testing.T) {
	tests := []struct {
		name   string
		a      model.QuizAttempt
		issues bool
	}{
		{"clean", model.QuizAttempt{}, false},
		{"one tab change", model.QuizAttempt{TabChangeCount: 1}, true},
		{"one second away", model.QuizAttempt{TimeAwaySeconds: 1}, true},
		{"refresh", model.QuizAttempt{RefreshDetected: true}, true},
		{"disqualified only", model.QuizAttempt{Disqualified: true}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasIntegrityIssues(tc.a); got != tc.issues {
				t.Errorf("HasIntegrityIssues = %v, want %v", got, tc.issues)
			}
		})
	}
}
