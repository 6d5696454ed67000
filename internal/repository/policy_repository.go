package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PolicyRepository handles quiz anti-cheat policy rows.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// GetByQuiz returns the stored policy. It returns pgx.ErrNoRows when the
// quiz has never been configured.
func (r *PolicyRepository) GetByQuiz(ctx context.Context, quizID uuid.UUID) (*model.QuizPolicy, error) {
	qp := &model.QuizPolicy{QuizID: quizID}
	p := &qp.Policy
	err := r.pool.QueryRow(ctx,
		`SELECT enabled, tab_change_limit, time_away_threshold_seconds,
		        auto_disqualify_on_refresh, auto_submit_on_disqualification,
		        prevent_copy_paste, fullscreen_mode, disable_right_click, updated_at
		 FROM quiz_policies WHERE quiz_id = $1`, quizID,
	).Scan(&p.Enabled, &p.TabChangeLimit, &p.TimeAwayThresholdSeconds,
		&p.AutoDisqualifyOnRefresh, &p.AutoSubmitOnDisqualification,
		&p.PreventCopyPaste, &p.FullscreenMode, &p.DisableRightClick, &qp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return qp, nil
}

// Upsert stores the policy and returns the saved row.
func (r *PolicyRepository) Upsert(ctx context.Context, quizID uuid.UUID, p model.Policy) (*model.QuizPolicy, error) {
	qp := &model.QuizPolicy{QuizID: quizID, Policy: p}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO quiz_policies (quiz_id, enabled, tab_change_limit, time_away_threshold_seconds,
		        auto_disqualify_on_refresh, auto_submit_on_disqualification,
		        prevent_copy_paste, fullscreen_mode, disable_right_click, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (quiz_id) DO UPDATE SET
		        enabled = EXCLUDED.enabled,
		        tab_change_limit = EXCLUDED.tab_change_limit,
		        time_away_threshold_seconds = EXCLUDED.time_away_threshold_seconds,
		        auto_disqualify_on_refresh = EXCLUDED.auto_disqualify_on_refresh,
		        auto_submit_on_disqualification = EXCLUDED.auto_submit_on_disqualification,
		        prevent_copy_paste = EXCLUDED.prevent_copy_paste,
		        fullscreen_mode = EXCLUDED.fullscreen_mode,
		        disable_right_click = EXCLUDED.disable_right_click,
		        updated_at = NOW()
		 RETURNING updated_at`,
		quizID, p.Enabled, p.TabChangeLimit, p.TimeAwayThresholdSeconds,
		p.AutoDisqualifyOnRefresh, p.AutoSubmitOnDisqualification,
		p.PreventCopyPaste, p.FullscreenMode, p.DisableRightClick,
	).Scan(&qp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return qp, nil
}
