package proctor

import (
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Evaluate applies the transition rules to s in place after a violation
// has been recorded and reports whether s just entered DISQUALIFIED.
//
// A disabled policy never transitions. Thresholds are strict: reaching a
// limit is allowed, exceeding it disqualifies.
func Evaluate(s *model.ProctoringSession) bool {
	if s.Status.Terminal() || !s.Policy.Enabled {
		return false
	}

	if reason := disqualifyReason(s); reason != "" {
		markDisqualified(s, reason)
		return true
	}

	if s.TabChangeCount > 0 || s.TimeAwaySeconds > 0 {
		s.Status = model.SessionStatusFlagged
	}
	return false
}

func disqualifyReason(s *model.ProctoringSession) string {
	p := s.Policy
	switch {
	case s.TabChangeCount > p.TabChangeLimit:
		return fmt.Sprintf("tab changes %d exceeded limit %d", s.TabChangeCount, p.TabChangeLimit)
	case s.TimeAwaySeconds > p.TimeAwayThresholdSeconds:
		return fmt.Sprintf("time away %ds exceeded threshold %ds", s.TimeAwaySeconds, p.TimeAwayThresholdSeconds)
	case s.RefreshDetected && p.AutoDisqualifyOnRefresh:
		return "page refresh detected"
	}
	return ""
}

func markDisqualified(s *model.ProctoringSession, reason string) {
	s.Disqualified = true
	s.DisqualifiedReason = reason
	s.Status = model.SessionStatusDisqualified
}

// needsAutoSubmit reports whether a disqualified session is still waiting
// for its automatic submission.
func needsAutoSubmit(s *model.ProctoringSession) bool {
	return s.Status == model.SessionStatusDisqualified &&
		s.Attempt == nil &&
		s.Policy.AutoSubmitOnDisqualification
}
