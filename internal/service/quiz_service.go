package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// quizCacheTTL bounds how long a cached policy or answer key lives.
const quizCacheTTL = 10 * time.Minute

// QuizService serves quiz policies and answer keys with a Redis
// cache-aside in front of PostgreSQL.
type QuizService struct {
	policyRepo   *repository.PolicyRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	defaults     model.Policy
	log          zerolog.Logger
}

// NewQuizService creates a new QuizService. defaults is served for quizzes
// that have no stored policy.
func NewQuizService(
	policyRepo *repository.PolicyRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	defaults model.Policy,
	log zerolog.Logger,
) *QuizService {
	return &QuizService{
		policyRepo:   policyRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		defaults:     defaults,
		log:          log.With().Str("component", "quiz_service").Logger(),
	}
}

// GetPolicy returns the quiz's stored policy, or the defaults when none
// has been saved.
func (s *QuizService) GetPolicy(ctx context.Context, quizID uuid.UUID) (*model.QuizPolicy, error) {
	qp, err := s.policyRepo.GetByQuiz(ctx, quizID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.QuizPolicy{QuizID: quizID, Policy: s.defaults}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return qp, nil
}

// UpdatePolicy validates and stores a policy. Invalid input returns a
// *model.ConfigError and nothing is written. Running sessions keep the
// copy they started with.
func (s *QuizService) UpdatePolicy(ctx context.Context, quizID uuid.UUID, p model.Policy) (*model.QuizPolicy, error) {
	valid, err := p.Validate()
	if err != nil {
		return nil, err
	}

	qp, err := s.policyRepo.Upsert(ctx, quizID, valid)
	if err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}

	if err := s.rdb.Del(ctx, config.CacheKey.QuizPolicyKey(quizID.String())).Err(); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to invalidate policy cache")
	}

	s.log.Info().Str("quiz_id", quizID.String()).
		Bool("enabled", valid.Enabled).
		Int("tab_change_limit", valid.TabChangeLimit).
		Int("time_away_threshold", valid.TimeAwayThresholdSeconds).
		Msg("Policy updated")
	return qp, nil
}

// PolicyForQuiz resolves the policy a new session should snapshot.
func (s *QuizService) PolicyForQuiz(ctx context.Context, quizID uuid.UUID) (model.Policy, error) {
	key := config.CacheKey.QuizPolicyKey(quizID.String())

	var p model.Policy
	if s.cacheGet(ctx, key, &p) {
		return p, nil
	}

	qp, err := s.GetPolicy(ctx, quizID)
	if err != nil {
		return model.Policy{}, err
	}
	s.cacheSet(ctx, key, qp.Policy)
	return qp.Policy, nil
}

// QuestionsForQuiz returns the ordered answer key.
func (s *QuizService) QuestionsForQuiz(ctx context.Context, quizID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.QuizAnswerKey(quizID.String())

	var questions []model.Question
	if s.cacheGet(ctx, key, &questions) {
		return questions, nil
	}

	questions, err := s.questionRepo.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	s.cacheSet(ctx, key, questions)
	return questions, nil
}

// InvalidateAnswerKey drops the cached answer key for a quiz.
func (s *QuizService) InvalidateAnswerKey(ctx context.Context, quizID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.QuizAnswerKey(quizID.String())).Err()
}

// cacheGet reports a hit. Redis failures count as a miss.
func (s *QuizService) cacheGet(ctx context.Context, key string, dst any) bool {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to database")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
		return false
	}
	return true
}

func (s *QuizService) cacheSet(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, quizCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
