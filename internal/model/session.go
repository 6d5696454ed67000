package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType enumerates the integrity events a client can report.
type ViolationType string

const (
	ViolationTabChange ViolationType = "tab_change"
	ViolationTimeAway  ViolationType = "time_away"
	ViolationRefresh   ViolationType = "refresh"
)

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationTabChange, ViolationTimeAway, ViolationRefresh:
		return true
	}
	return false
}

// Violation is one append-only entry in a session's audit log.
type Violation struct {
	Type      ViolationType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Details   string        `json:"details,omitempty"`
}

// SessionStatus enumerates proctoring session states.
type SessionStatus string

const (
	SessionStatusActive       SessionStatus = "ACTIVE"
	SessionStatusFlagged      SessionStatus = "FLAGGED"
	SessionStatusDisqualified SessionStatus = "DISQUALIFIED"
	SessionStatusCompleted    SessionStatus = "COMPLETED"
)

// Terminal reports whether no further violation can change the status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusDisqualified || s == SessionStatusCompleted
}

// CompletionReason records why a session reached COMPLETED.
type CompletionReason string

const (
	CompletionSubmitted  CompletionReason = "submitted"
	CompletionAutoSubmit CompletionReason = "auto_submitted"
	CompletionForced     CompletionReason = "force_submitted"
	CompletionExpired    CompletionReason = "expired"
)

// ViolationDisplayLimit bounds how many violations the read model carries.
const ViolationDisplayLimit = 20

// ProctoringSession is one student's in-progress attempt.
type ProctoringSession struct {
	ID             uuid.UUID `json:"id"`
	QuizID         uuid.UUID `json:"quiz_id"`
	UserID         int       `json:"user_id"`
	StudentName    string    `json:"student_name"`
	StudentEmail   string    `json:"student_email"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Policy         Policy    `json:"policy"`

	TabChangeCount  int         `json:"tab_change_count"`
	TimeAwaySeconds int         `json:"time_away_seconds"`
	RefreshDetected bool        `json:"refresh_detected"`
	Violations      []Violation `json:"violations"`

	// Answers autosaved so far, keyed by question index.
	Answers map[int]string `json:"answers"`

	Disqualified       bool          `json:"disqualified"`
	DisqualifiedReason string        `json:"disqualified_reason,omitempty"`
	Status             SessionStatus `json:"status"`

	// Set exactly once, when the session reaches COMPLETED.
	Attempt *QuizAttempt `json:"attempt,omitempty"`

	// Version increases on every committed update.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers never share the violation log,
// answer map or attempt with the stored value.
func (s *ProctoringSession) Clone() *ProctoringSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Violations != nil {
		c.Violations = make([]Violation, len(s.Violations))
		copy(c.Violations, s.Violations)
	}
	if s.Answers != nil {
		c.Answers = make(map[int]string, len(s.Answers))
		for k, v := range s.Answers {
			c.Answers[k] = v
		}
	}
	c.Attempt = s.Attempt.Clone()
	return &c
}

// SessionView is the read model served to monitoring clients.
type SessionView struct {
	ID             uuid.UUID     `json:"id"`
	UserID         int           `json:"user_id"`
	StudentName    string        `json:"student_name"`
	StudentEmail   string        `json:"student_email"`
	StartedAt      time.Time     `json:"started_at"`
	LastActivity   time.Time     `json:"last_activity"`
	TabChangeCount int           `json:"tab_change_count"`
	TimeAway       int           `json:"time_away"`
	ViolationCount int           `json:"violation_count"`
	Violations     []Violation   `json:"violations"`
	Disqualified   bool          `json:"disqualified"`
	Status         SessionStatus `json:"status"`
}

// View projects the session onto its read model, keeping only the most
// recent ViolationDisplayLimit violations.
func (s *ProctoringSession) View() SessionView {
	tail := s.Violations
	if len(tail) > ViolationDisplayLimit {
		tail = tail[len(tail)-ViolationDisplayLimit:]
	}
	shown := make([]Violation, len(tail))
	copy(shown, tail)

	return SessionView{
		ID:             s.ID,
		UserID:         s.UserID,
		StudentName:    s.StudentName,
		StudentEmail:   s.StudentEmail,
		StartedAt:      s.StartedAt,
		LastActivity:   s.LastActivityAt,
		TabChangeCount: s.TabChangeCount,
		TimeAway:       s.TimeAwaySeconds,
		ViolationCount: len(s.Violations),
		Violations:     shown,
		Disqualified:   s.Disqualified,
		Status:         s.Status,
	}
}

// Student identifies who is taking the quiz.
type Student struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// StartSessionRequest is the optional payload for starting a session.
type StartSessionRequest struct {
	Name  string `json:"name" binding:"omitempty,max=255"`
	Email string `json:"email" binding:"omitempty,email"`
}

// MaxTimeAwaySeconds caps a single time_away report.
const MaxTimeAwaySeconds = 24 * 60 * 60

// EventRequest is an inbound integrity event from a client. Negative
// seconds are accepted and counted as zero.
type EventRequest struct {
	Type      ViolationType `json:"type" binding:"required,violation_type"`
	Seconds   int           `json:"seconds" binding:"max=86400"`
	Timestamp *time.Time    `json:"timestamp"`
}

// SaveAnswerRequest is the payload for autosaving a single answer.
type SaveAnswerRequest struct {
	Answer string `json:"answer" binding:"max=10000"`
}

// DisqualifyRequest is the payload for a teacher disqualifying a session.
type DisqualifyRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}
