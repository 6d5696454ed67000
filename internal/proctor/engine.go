// Package proctor tracks in-progress quiz sessions, records integrity
// violations against them and drives each session through its lifecycle
// up to a single graded attempt.
package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PolicySource resolves the anti-cheat policy for a quiz.
type PolicySource interface {
	PolicyForQuiz(ctx context.Context, quizID uuid.UUID) (model.Policy, error)
}

// QuestionSource resolves the ordered answer key for a quiz.
type QuestionSource interface {
	QuestionsForQuiz(ctx context.Context, quizID uuid.UUID) ([]model.Question, error)
}

// Observer is notified after a change has been committed to the store.
type Observer interface {
	SessionChanged(ctx context.Context, s *model.ProctoringSession)
	ViolationRecorded(ctx context.Context, s *model.ProctoringSession, v model.Violation)
	AttemptCompleted(ctx context.Context, s *model.ProctoringSession, a *model.QuizAttempt)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) SessionChanged(context.Context, *model.ProctoringSession) {}
func (NopObserver) ViolationRecorded(context.Context, *model.ProctoringSession, model.Violation) {
}
func (NopObserver) AttemptCompleted(context.Context, *model.ProctoringSession, *model.QuizAttempt) {
}

// Outcome describes what one event or teacher action did to a session.
type Outcome struct {
	Session      *model.ProctoringSession `json:"session,omitempty"`
	Violation    *model.Violation         `json:"violation,omitempty"`
	Disqualified bool                     `json:"disqualified"`
	Attempt      *model.QuizAttempt       `json:"attempt,omitempty"`
	Ignored      bool                     `json:"ignored"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers the post-commit observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine coordinates the recorder, the state machine and the grader over
// a SessionStore.
type Engine struct {
	store     SessionStore
	policies  PolicySource
	questions QuestionSource
	grader    *grading.Grader
	observer  Observer
	now       func() time.Time
	log       zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store SessionStore, policies PolicySource, questions QuestionSource, grader *grading.Grader, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		policies:  policies,
		questions: questions,
		grader:    grader,
		observer:  NopObserver{},
		now:       time.Now,
		log:       logger.Component(log, "proctor_engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens a session for the student, or returns their open session
// for the quiz if one exists. The quiz policy is copied into the session.
func (e *Engine) Start(ctx context.Context, quizID uuid.UUID, student model.Student) (*model.ProctoringSession, bool, error) {
	policy, err := e.policies.PolicyForQuiz(ctx, quizID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve policy: %w", err)
	}
	if policy, err = policy.Validate(); err != nil {
		return nil, false, err
	}

	now := e.now()
	s := &model.ProctoringSession{
		ID:             uuid.New(),
		QuizID:         quizID,
		UserID:         student.UserID,
		StudentName:    student.Name,
		StudentEmail:   student.Email,
		StartedAt:      now,
		LastActivityAt: now,
		Policy:         policy,
		Violations:     []model.Violation{},
		Answers:        map[int]string{},
		Status:         model.SessionStatusActive,
	}

	cur, created, err := e.store.CreateOrGet(ctx, s)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	if created {
		e.log.Info().
			Str("session_id", cur.ID.String()).
			Str("quiz_id", quizID.String()).
			Int("user_id", student.UserID).
			Msg("Proctoring session started")
		e.observer.SessionChanged(ctx, cur)
	}
	return cur, created, nil
}

// Record applies one integrity event. Events for unknown or completed
// sessions are logged and ignored.
func (e *Engine) Record(ctx context.Context, sessionID uuid.UUID, ev Event) (Outcome, error) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if !ev.Type.Valid() {
		e.log.Warn().Str("session_id", sessionID.String()).Str("type", string(ev.Type)).Msg("Ignoring unknown violation type")
		return Outcome{Ignored: true}, nil
	}

	var (
		recorded     model.Violation
		disqualified bool
	)
	s, err := e.store.Update(ctx, sessionID, func(s *model.ProctoringSession) error {
		if s.Status == model.SessionStatusCompleted {
			return errNoChange
		}
		next, _ := Apply(s, ev)
		disqualified = Evaluate(next)
		recorded = next.Violations[len(next.Violations)-1]
		*s = *next
		return nil
	})
	switch {
	case errors.Is(err, ErrUnknownSession):
		e.log.Warn().Str("session_id", sessionID.String()).Str("type", string(ev.Type)).Msg("Violation for unknown session ignored")
		return Outcome{Ignored: true}, nil
	case errors.Is(err, errNoChange):
		e.log.Debug().Str("session_id", sessionID.String()).Str("type", string(ev.Type)).Msg("Violation for completed session ignored")
		return Outcome{Session: s, Ignored: true}, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("record violation: %w", err)
	}

	e.observer.ViolationRecorded(ctx, s, recorded)
	e.observer.SessionChanged(ctx, s)

	out := Outcome{Session: s, Violation: &recorded, Disqualified: disqualified}
	if disqualified {
		e.log.Warn().
			Str("session_id", s.ID.String()).
			Int("user_id", s.UserID).
			Str("reason", s.DisqualifiedReason).
			Msg("Session disqualified")
	}
	if needsAutoSubmit(s) {
		out.Session, out.Attempt = e.autoSubmit(ctx, s)
	}
	return out, nil
}

// SaveAnswer stores the student's current answer for one question.
func (e *Engine) SaveAnswer(ctx context.Context, sessionID uuid.UUID, index int, answer string) (*model.ProctoringSession, error) {
	if index < 0 {
		return nil, fmt.Errorf("question index %d out of range", index)
	}
	s, err := e.store.Update(ctx, sessionID, func(s *model.ProctoringSession) error {
		if s.Status == model.SessionStatusCompleted {
			return ErrSessionCompleted
		}
		if s.Answers == nil {
			s.Answers = map[int]string{}
		}
		s.Answers[index] = answer
		if now := e.now(); now.After(s.LastActivityAt) {
			s.LastActivityAt = now
		}
		return nil
	})
	return s, err
}

// Submit completes the session on the student's request. A disqualified
// session may still be submitted and keeps its disqualified flag.
// Submitting a completed session returns its attempt with
// ErrSessionCompleted.
func (e *Engine) Submit(ctx context.Context, sessionID uuid.UUID) (*model.QuizAttempt, error) {
	_, a, err := e.complete(ctx, sessionID, model.CompletionSubmitted)
	return a, err
}

// ForceSubmit completes the session on a teacher's request.
func (e *Engine) ForceSubmit(ctx context.Context, sessionID uuid.UUID) (*model.QuizAttempt, error) {
	_, a, err := e.complete(ctx, sessionID, model.CompletionForced)
	return a, err
}

// Expire completes an abandoned session.
func (e *Engine) Expire(ctx context.Context, sessionID uuid.UUID) (*model.QuizAttempt, error) {
	_, a, err := e.complete(ctx, sessionID, model.CompletionExpired)
	return a, err
}

// Disqualify marks the session disqualified on a teacher's request and
// auto-submits it when the policy says so. Repeated calls are no-ops.
func (e *Engine) Disqualify(ctx context.Context, sessionID uuid.UUID, reason string) (Outcome, error) {
	if reason == "" {
		reason = "disqualified by teacher"
	}
	s, err := e.store.Update(ctx, sessionID, func(s *model.ProctoringSession) error {
		if s.Status.Terminal() {
			return errNoChange
		}
		markDisqualified(s, reason)
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		out := Outcome{Session: s, Attempt: s.Attempt.Clone()}
		if needsAutoSubmit(s) {
			out.Session, out.Attempt = e.autoSubmit(ctx, s)
		}
		return out, nil
	case err != nil:
		return Outcome{}, err
	}

	e.log.Warn().Str("session_id", s.ID.String()).Str("reason", reason).Msg("Session disqualified by teacher")
	e.observer.SessionChanged(ctx, s)

	out := Outcome{Session: s, Disqualified: true}
	if needsAutoSubmit(s) {
		out.Session, out.Attempt = e.autoSubmit(ctx, s)
	}
	return out, nil
}

// Get returns the session snapshot.
func (e *Engine) Get(ctx context.Context, sessionID uuid.UUID) (*model.ProctoringSession, error) {
	return e.store.Get(ctx, sessionID)
}

// ListByQuiz returns snapshots of every session of the quiz.
func (e *Engine) ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]*model.ProctoringSession, error) {
	return e.store.ListByQuiz(ctx, quizID)
}

// List returns snapshots of every stored session.
func (e *Engine) List(ctx context.Context) ([]*model.ProctoringSession, error) {
	return e.store.List(ctx)
}

// autoSubmit completes a disqualified session. Failures leave it
// DISQUALIFIED for the reaper to retry.
func (e *Engine) autoSubmit(ctx context.Context, s *model.ProctoringSession) (*model.ProctoringSession, *model.QuizAttempt) {
	cur, a, err := e.complete(ctx, s.ID, model.CompletionAutoSubmit)
	if err != nil && !errors.Is(err, ErrSessionCompleted) {
		e.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Auto-submit failed")
		return s, nil
	}
	return cur, a
}

// complete grades and closes the session exactly once. Later callers get
// the existing attempt and ErrSessionCompleted.
func (e *Engine) complete(ctx context.Context, sessionID uuid.UUID, reason model.CompletionReason) (*model.ProctoringSession, *model.QuizAttempt, error) {
	snap, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if snap.Attempt != nil {
		return snap, snap.Attempt.Clone(), ErrSessionCompleted
	}

	questions, err := e.questions.QuestionsForQuiz(ctx, snap.QuizID)
	if err != nil {
		return snap, nil, fmt.Errorf("load questions: %w", err)
	}

	var result grading.Result
	s, err := e.store.Update(ctx, sessionID, func(s *model.ProctoringSession) error {
		if s.Attempt != nil {
			return ErrSessionCompleted
		}
		now := e.now()
		result = e.grader.Grade(questions, s.Answers)
		s.Attempt = newAttempt(s, result, now, reason)
		s.Status = model.SessionStatusCompleted
		s.LastActivityAt = now
		return nil
	})
	if errors.Is(err, ErrSessionCompleted) {
		return s, s.Attempt.Clone(), err
	}
	if err != nil {
		return s, nil, fmt.Errorf("complete session: %w", err)
	}

	for _, issue := range result.Issues {
		e.log.Warn().
			Str("quiz_id", s.QuizID.String()).
			Int("question_index", issue.Index).
			Str("reason", issue.Reason).
			Msg("Malformed answer key, graded as incorrect")
	}
	e.log.Info().
		Str("session_id", s.ID.String()).
		Str("reason", string(reason)).
		Int("score", s.Attempt.Score).
		Int("total", s.Attempt.TotalQuestions).
		Bool("disqualified", s.Attempt.Disqualified).
		Msg("Session completed")

	a := s.Attempt.Clone()
	e.observer.SessionChanged(ctx, s)
	e.observer.AttemptCompleted(ctx, s, a)
	return s, a, nil
}

func newAttempt(s *model.ProctoringSession, r grading.Result, now time.Time, reason model.CompletionReason) *model.QuizAttempt {
	a := &model.QuizAttempt{
		ID:               uuid.New(),
		SessionID:        s.ID,
		QuizID:           s.QuizID,
		UserID:           s.UserID,
		Answers:          s.Answers,
		Score:            r.Score,
		TotalQuestions:   r.TotalQuestions,
		Percentage:       r.Percentage,
		CompletedAt:      now,
		TimeSpentSeconds: int(now.Sub(s.StartedAt).Seconds()),
		TabChangeCount:   s.TabChangeCount,
		TimeAwaySeconds:  s.TimeAwaySeconds,
		RefreshDetected:  s.RefreshDetected,
		Violations:       s.Violations,
		Disqualified:     s.Disqualified,
		CompletionReason: reason,
	}
	if a.TimeSpentSeconds < 0 {
		a.TimeSpentSeconds = 0
	}
	// Detach from the session's map and slice.
	return a.Clone()
}
