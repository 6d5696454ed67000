// Package aggregate builds the read-only summaries behind the live
// monitoring dashboard and the history reports.
package aggregate

import (
	"github.com/stemsi/exstem-proctor/internal/model"
)

// DisplayStatus is the dashboard colouring of a session.
type DisplayStatus string

const (
	DisplayActive       DisplayStatus = "Active"
	DisplayViolations   DisplayStatus = "Violations"
	DisplayDisqualified DisplayStatus = "Disqualified"
)

// displayTimeAwaySeconds is the fixed dashboard heuristic. It is separate
// from any policy threshold and only affects colouring.
const displayTimeAwaySeconds = 5

// Classify returns the display status of a session.
func Classify(s *model.ProctoringSession) DisplayStatus {
	switch {
	case s.Disqualified:
		return DisplayDisqualified
	case len(s.Violations) > 0 || s.TabChangeCount > 0 || s.TimeAwaySeconds > displayTimeAwaySeconds:
		return DisplayViolations
	default:
		return DisplayActive
	}
}

// LiveSession pairs a session's read model with its display status.
type LiveSession struct {
	model.SessionView
	DisplayStatus DisplayStatus `json:"display_status"`
}

// Rollup counts sessions by display status.
type Rollup struct {
	Total        int `json:"total"`
	Clean        int `json:"clean"`
	Flagged      int `json:"flagged"`
	Disqualified int `json:"disqualified"`
}

// LiveReport is the full dashboard payload for one quiz.
type LiveReport struct {
	Sessions []LiveSession `json:"sessions"`
	Rollup   Rollup        `json:"rollup"`
}

// ListActive classifies every session that is still in progress. A session
// that was disqualified and then auto-submitted stays listed as
// Disqualified until the reaper purges it. It never modifies its input.
func ListActive(sessions []*model.ProctoringSession) LiveReport {
	report := LiveReport{Sessions: make([]LiveSession, 0, len(sessions))}

	for _, s := range sessions {
		if !visible(s) {
			continue
		}
		status := Classify(s)
		report.Sessions = append(report.Sessions, LiveSession{SessionView: s.View(), DisplayStatus: status})

		report.Rollup.Total++
		switch status {
		case DisplayDisqualified:
			report.Rollup.Disqualified++
		case DisplayViolations:
			report.Rollup.Flagged++
		default:
			report.Rollup.Clean++
		}
	}
	return report
}

func visible(s *model.ProctoringSession) bool {
	if s == nil {
		return false
	}
	return s.Status != model.SessionStatusCompleted || s.Disqualified
}
