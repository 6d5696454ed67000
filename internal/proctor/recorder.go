package proctor

import (
	"fmt"
	"math"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Event is one inbound integrity event.
type Event struct {
	Type    model.ViolationType
	Seconds int
	At      time.Time
}

// RecordTabChange returns a copy of s with the tab-change counter bumped
// and a TabChange violation appended.
func RecordTabChange(s *model.ProctoringSession, at time.Time) *model.ProctoringSession {
	next := s.Clone()
	next.TabChangeCount++
	appendViolation(next, model.Violation{
		Type:      model.ViolationTabChange,
		Timestamp: at,
		Details:   fmt.Sprintf("tab change #%d", next.TabChangeCount),
	})
	return next
}

// RecordTimeAway returns a copy of s with seconds added to the time-away
// total. Negative durations count as zero, and a single report is capped at
// model.MaxTimeAwaySeconds. The total saturates instead of wrapping.
func RecordTimeAway(s *model.ProctoringSession, seconds int, at time.Time) *model.ProctoringSession {
	seconds = min(max(seconds, 0), model.MaxTimeAwaySeconds)
	next := s.Clone()
	if next.TimeAwaySeconds > math.MaxInt-seconds {
		next.TimeAwaySeconds = math.MaxInt
	} else {
		next.TimeAwaySeconds += seconds
	}
	appendViolation(next, model.Violation{
		Type:      model.ViolationTimeAway,
		Timestamp: at,
		Details:   fmt.Sprintf("away from tab for %d seconds", seconds),
	})
	return next
}

// RecordRefresh returns a copy of s with a Refresh violation appended.
func RecordRefresh(s *model.ProctoringSession, at time.Time) *model.ProctoringSession {
	next := s.Clone()
	next.RefreshDetected = true
	appendViolation(next, model.Violation{
		Type:      model.ViolationRefresh,
		Timestamp: at,
		Details:   "page refreshed",
	})
	return next
}

// Apply dispatches ev to the matching recorder. Unknown types leave the
// session unchanged and report false.
func Apply(s *model.ProctoringSession, ev Event) (*model.ProctoringSession, bool) {
	switch ev.Type {
	case model.ViolationTabChange:
		return RecordTabChange(s, ev.At), true
	case model.ViolationTimeAway:
		return RecordTimeAway(s, ev.Seconds, ev.At), true
	case model.ViolationRefresh:
		return RecordRefresh(s, ev.At), true
	default:
		return s, false
	}
}

func appendViolation(s *model.ProctoringSession, v model.Violation) {
	s.Violations = append(s.Violations, v)
	if v.Timestamp.After(s.LastActivityAt) {
		s.LastActivityAt = v.Timestamp
	}
}
