package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// ErrNotSessionOwner is returned when a student acts on someone else's session.
var ErrNotSessionOwner = errors.New("session belongs to another student")

// ProctorService is the entry point handlers use for session lifecycle
// operations. It adds ownership checks and metrics on top of the engine.
type ProctorService struct {
	engine  *proctor.Engine
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewProctorService creates a new ProctorService.
func NewProctorService(engine *proctor.Engine, m *metrics.Metrics, log zerolog.Logger) *ProctorService {
	return &ProctorService{
		engine:  engine,
		metrics: m,
		log:     log.With().Str("component", "proctor_service").Logger(),
	}
}

// Start opens or resumes the student's session for a quiz.
func (s *ProctorService) Start(ctx context.Context, quizID uuid.UUID, student model.Student) (*model.ProctoringSession, bool, error) {
	return s.engine.Start(ctx, quizID, student)
}

// owned loads a session and checks it belongs to userID.
func (s *ProctorService) owned(ctx context.Context, sessionID uuid.UUID, userID int) (*model.ProctoringSession, error) {
	sess, err := s.engine.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return sess, nil
}

// RecordEvent applies an inbound integrity event from the student's
// client. Events for unknown sessions are ignored, never rejected.
func (s *ProctorService) RecordEvent(ctx context.Context, sessionID uuid.UUID, userID int, req model.EventRequest) (proctor.Outcome, error) {
	if _, err := s.owned(ctx, sessionID, userID); err != nil {
		if errors.Is(err, proctor.ErrUnknownSession) {
			s.metrics.IgnoredEvent()
			s.log.Warn().
				Str("session_id", sessionID.String()).
				Str("type", string(req.Type)).
				Str("request_id", response.RequestID(ctx)).
				Msg("Event for unknown session ignored")
			return proctor.Outcome{Ignored: true}, nil
		}
		return proctor.Outcome{}, err
	}

	ev := proctor.Event{Type: req.Type, Seconds: req.Seconds}
	if req.Timestamp != nil {
		ev.At = req.Timestamp.UTC()
	}

	out, err := s.engine.Record(ctx, sessionID, ev)
	if err != nil {
		return out, err
	}
	s.observe(out)
	return out, nil
}

// SaveAnswer autosaves one answer.
func (s *ProctorService) SaveAnswer(ctx context.Context, sessionID uuid.UUID, userID, index int, answer string) (*model.ProctoringSession, error) {
	if _, err := s.owned(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.engine.SaveAnswer(ctx, sessionID, index, answer)
}

// Submit completes the student's session. Resubmitting returns the
// stored attempt and proctor.ErrSessionCompleted.
func (s *ProctorService) Submit(ctx context.Context, sessionID uuid.UUID, userID int) (*model.QuizAttempt, error) {
	if _, err := s.owned(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.engine.Submit(ctx, sessionID)
}

// Get returns a session for its owner.
func (s *ProctorService) Get(ctx context.Context, sessionID uuid.UUID, userID int) (*model.ProctoringSession, error) {
	return s.owned(ctx, sessionID, userID)
}

// ForceSubmit completes a session on a teacher's request.
func (s *ProctorService) ForceSubmit(ctx context.Context, sessionID uuid.UUID, teacherID int) (*model.QuizAttempt, error) {
	a, err := s.engine.ForceSubmit(ctx, sessionID)
	if err == nil {
		s.log.Info().
			Str("session_id", sessionID.String()).
			Int("teacher_id", teacherID).
			Str("request_id", response.RequestID(ctx)).
			Msg("Session force-submitted")
	}
	return a, err
}

// Disqualify disqualifies a session on a teacher's request.
func (s *ProctorService) Disqualify(ctx context.Context, sessionID uuid.UUID, teacherID int, reason string) (proctor.Outcome, error) {
	out, err := s.engine.Disqualify(ctx, sessionID, reason)
	if err != nil {
		return out, err
	}
	if out.Disqualified {
		s.log.Info().
			Str("session_id", sessionID.String()).
			Int("teacher_id", teacherID).
			Str("request_id", response.RequestID(ctx)).
			Msg("Session disqualified by teacher")
	}
	s.observe(out)
	return out, nil
}

func (s *ProctorService) observe(out proctor.Outcome) {
	if out.Ignored {
		s.metrics.IgnoredEvent()
	}
	if out.Disqualified {
		s.metrics.Disqualified()
	}
}

// eventTimeout bounds how long a single event may spend in the store.
const eventTimeout = 5 * time.Second

// WithEventTimeout derives the context used for one inbound event.
func WithEventTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, eventTimeout)
}
