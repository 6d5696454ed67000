package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/aggregate"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type sessionLister interface {
	ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]*model.ProctoringSession, error)
	List(ctx context.Context) ([]*model.ProctoringSession, error)
}

// MonitorService builds the live dashboard for teachers.
type MonitorService struct {
	sessions      sessionLister
	violationRepo *repository.ViolationRepository
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(engine *proctor.Engine, violationRepo *repository.ViolationRepository, m *metrics.Metrics, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		sessions:      engine,
		violationRepo: violationRepo,
		metrics:       m,
		log:           log.With().Str("component", "monitor_service").Logger(),
	}
}

// Live returns the classified non-completed sessions of a quiz and their
// rollup counts.
func (s *MonitorService) Live(ctx context.Context, quizID uuid.UUID) (aggregate.LiveReport, error) {
	sessions, err := s.sessions.ListByQuiz(ctx, quizID)
	if err != nil {
		return aggregate.LiveReport{}, err
	}
	return aggregate.ListActive(sessions), nil
}

// ViolationLog returns the full persisted violation history of a session.
func (s *MonitorService) ViolationLog(ctx context.Context, sessionID uuid.UUID) ([]repository.ViolationRecord, error) {
	return s.violationRepo.ListBySession(ctx, sessionID)
}

// RefreshGauge recomputes the live-session gauge across every quiz.
func (s *MonitorService) RefreshGauge(ctx context.Context) error {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return err
	}
	rollup := aggregate.ListActive(sessions).Rollup
	s.metrics.SetLiveSessions(map[string]int{
		string(aggregate.DisplayActive):       rollup.Clean,
		string(aggregate.DisplayViolations):   rollup.Flagged,
		string(aggregate.DisplayDisqualified): rollup.Disqualified,
	})
	return nil
}

// RunGauge refreshes the gauge every interval until ctx is cancelled.
func (s *MonitorService) RunGauge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshGauge(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Failed to refresh live session gauge")
			}
		}
	}
}
