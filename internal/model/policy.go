package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default anti-cheat thresholds applied when a quiz has no stored policy.
const (
	DefaultTabChangeLimit           = 3
	DefaultTimeAwayThresholdSeconds = 5
)

// Policy is the per-quiz anti-cheat configuration. A session keeps its own
// copy taken at start, so later edits never reach an in-progress attempt.
type Policy struct {
	Enabled                      bool `json:"enabled"`
	TabChangeLimit               int  `json:"tab_change_limit"`
	TimeAwayThresholdSeconds     int  `json:"time_away_threshold_seconds"`
	AutoDisqualifyOnRefresh      bool `json:"auto_disqualify_on_refresh"`
	AutoSubmitOnDisqualification bool `json:"auto_submit_on_disqualification"`

	// Advisory flags, enforced by the client only.
	PreventCopyPaste  bool `json:"prevent_copy_paste"`
	FullscreenMode    bool `json:"fullscreen_mode"`
	DisableRightClick bool `json:"disable_right_click"`
}

// DefaultPolicy returns an enabled policy with the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:                      true,
		TabChangeLimit:               DefaultTabChangeLimit,
		TimeAwayThresholdSeconds:     DefaultTimeAwayThresholdSeconds,
		AutoSubmitOnDisqualification: true,
	}
}

// ConfigError reports an invalid policy field. It is the only error class
// that blocks an operation (saving quiz settings).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy: %s %s", e.Field, e.Reason)
}

// Validate rejects negative thresholds and returns the policy unchanged
// when it is acceptable.
func (p Policy) Validate() (Policy, error) {
	if p.TabChangeLimit < 0 {
		return Policy{}, &ConfigError{Field: "tab_change_limit", Reason: "must not be negative"}
	}
	if p.TimeAwayThresholdSeconds < 0 {
		return Policy{}, &ConfigError{Field: "time_away_threshold_seconds", Reason: "must not be negative"}
	}
	return p, nil
}

// QuizPolicy is a stored policy row for a quiz.
type QuizPolicy struct {
	QuizID    uuid.UUID `json:"quiz_id"`
	Policy    Policy    `json:"policy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdatePolicyRequest is the payload for saving a quiz's anti-cheat settings.
// Thresholds are signed so negative input reaches Validate instead of
// failing JSON decoding.
type UpdatePolicyRequest struct {
	Enabled                      *bool `json:"enabled" binding:"required"`
	TabChangeLimit               *int  `json:"tab_change_limit" binding:"required"`
	TimeAwayThresholdSeconds     *int  `json:"time_away_threshold_seconds" binding:"required"`
	AutoDisqualifyOnRefresh      bool  `json:"auto_disqualify_on_refresh"`
	AutoSubmitOnDisqualification bool  `json:"auto_submit_on_disqualification"`
	PreventCopyPaste             bool  `json:"prevent_copy_paste"`
	FullscreenMode               bool  `json:"fullscreen_mode"`
	DisableRightClick            bool  `json:"disable_right_click"`
}

// ToPolicy converts the request into an unvalidated Policy.
func (r UpdatePolicyRequest) ToPolicy() Policy {
	p := Policy{
		AutoDisqualifyOnRefresh:      r.AutoDisqualifyOnRefresh,
		AutoSubmitOnDisqualification: r.AutoSubmitOnDisqualification,
		PreventCopyPaste:             r.PreventCopyPaste,
		FullscreenMode:               r.FullscreenMode,
		DisableRightClick:            r.DisableRightClick,
	}
	if r.Enabled != nil {
		p.Enabled = *r.Enabled
	}
	if r.TabChangeLimit != nil {
		p.TabChangeLimit = *r.TabChangeLimit
	}
	if r.TimeAwayThresholdSeconds != nil {
		p.TimeAwayThresholdSeconds = *r.TimeAwayThresholdSeconds
	}
	return p
}
