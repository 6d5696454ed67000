package websocket

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation Action = "violation"
	ActionAutosave  Action = "autosave"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload is every client message. Fields not used by an action
// are ignored.
type RequestPayload struct {
	Action Action `json:"action"`

	// violation
	Type      model.ViolationType `json:"type,omitempty"`
	Seconds   int                 `json:"seconds,omitempty"`
	Timestamp *time.Time          `json:"timestamp,omitempty"`

	// autosave
	Index  *int   `json:"index,omitempty"`
	Answer string `json:"ans,omitempty"`
}

// EventRequest converts a violation message into the HTTP event shape.
func (p *RequestPayload) EventRequest() model.EventRequest {
	return model.EventRequest{Type: p.Type, Seconds: p.Seconds, Timestamp: p.Timestamp}
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventRecorded Event = "recorded"
	EventSaved    Event = "saved"
	EventGraded   Event = "graded"
	EventPong     Event = "pong"
)

// RecordedResponse acknowledges a violation with the session counters
// after it was applied.
type RecordedResponse struct {
	Event           Event               `json:"event"`
	Status          model.SessionStatus `json:"status"`
	TabChangeCount  int                 `json:"tab_change_count"`
	TimeAwaySeconds int                 `json:"time_away"`
	Flagged         bool                `json:"flagged"`
	Disqualified    bool                `json:"disqualified"`
	Ignored         bool                `json:"ignored,omitempty"`
	Attempt         *GradedResponse     `json:"attempt,omitempty"`
}

type SavedResponse struct {
	Event Event `json:"event"`
	Index int   `json:"index"`
}

type GradedResponse struct {
	Event            Event                  `json:"event"`
	Score            int                    `json:"score"`
	TotalQuestions   int                    `json:"total_questions"`
	Percentage       float64                `json:"percentage"`
	Disqualified     bool                   `json:"disqualified"`
	CompletionReason model.CompletionReason `json:"completion_reason"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// NewGradedResponse describes a finished attempt.
func NewGradedResponse(a *model.QuizAttempt) *GradedResponse {
	if a == nil {
		return nil
	}
	return &GradedResponse{
		Event:            EventGraded,
		Score:            a.Score,
		TotalQuestions:   a.TotalQuestions,
		Percentage:       a.Percentage,
		Disqualified:     a.Disqualified,
		CompletionReason: a.CompletionReason,
	}
}

// NewRecordedResponse describes the session after an event. s may be nil
// when the event was ignored.
func NewRecordedResponse(s *model.ProctoringSession, ignored bool, a *model.QuizAttempt) RecordedResponse {
	r := RecordedResponse{Event: EventRecorded, Ignored: ignored, Attempt: NewGradedResponse(a)}
	if s != nil {
		r.Status = s.Status
		r.TabChangeCount = s.TabChangeCount
		r.TimeAwaySeconds = s.TimeAwaySeconds
		r.Flagged = s.Status == model.SessionStatusFlagged
		r.Disqualified = s.Disqualified
	}
	return r
}
