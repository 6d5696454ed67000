package model

import (
	"errors"
	"testing"
)

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Policy)
		wantField string
	}{
		{"default", func(*Policy) {}, ""},
		{"zero limits", func(p *Policy) { p.TabChangeLimit, p.TimeAwayThresholdSeconds = 0, 0 }, ""},
		{"disabled with negative limit", func(p *Policy) { p.Enabled, p.TabChangeLimit = false, -1 }, "tab_change_limit"},
		{"negative tab limit", func(p *Policy) { p.TabChangeLimit = -1 }, "tab_change_limit"},
		{"negative time away", func(p *Policy) { p.TimeAwayThresholdSeconds = -5 }, "time_away_threshold_seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultPolicy()
			tc.mutate(&p)
			got, err := p.Validate()
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() err = %v", err)
				}
				if got != p {
					t.Errorf("Validate() = %+v, want %+v", got, p)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() err = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tc.wantField {
				t.Errorf("field = %q, want %q", cfgErr.Field, tc.wantField)
			}
		})
	}
}

func TestUpdatePolicyRequestToPolicy(t *testing.T) {
	enabled, limit, away := true, 2, 10
	req := UpdatePolicyRequest{
		Enabled:                  &enabled,
		TabChangeLimit:           &limit,
		TimeAwayThresholdSeconds: &away,
		AutoDisqualifyOnRefresh:  true,
		FullscreenMode:           true,
	}
	want := Policy{
		Enabled:                  true,
		TabChangeLimit:           2,
		TimeAwayThresholdSeconds: 10,
		AutoDisqualifyOnRefresh:  true,
		FullscreenMode:           true,
	}
	if got := req.ToPolicy(); got != want {
		t.Errorf("ToPolicy() = %+v, want %+v", got, want)
	}
}
