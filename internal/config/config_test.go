package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SESSION_STORE", "SESSION_IDLE_TTL", "MONITOR_POLL_INTERVAL", "ESSAY_GRADING", "DEFAULT_TAB_CHANGE_LIMIT"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.SessionStore != SessionStoreRedis {
		t.Errorf("SessionStore = %q, want redis", cfg.SessionStore)
	}
	if cfg.MonitorPollInterval != 2*time.Second {
		t.Errorf("MonitorPollInterval = %v, want 2s", cfg.MonitorPollInterval)
	}
	if cfg.DefaultTabChangeLimit != 3 || cfg.DefaultTimeAwayThreshold != 5 {
		t.Errorf("defaults = %d/%d, want 3/5", cfg.DefaultTabChangeLimit, cfg.DefaultTimeAwayThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Minute},
		{"90", 90 * time.Second},
		{"0", 0},
		{"1h30m", 90 * time.Minute},
		{"soon", time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tc.raw)
			if got := getEnvDuration("TEST_DURATION", time.Minute); got != tc.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"memory store", func(c *Config) { c.SessionStore = SessionStoreMemory }, false},
		{"unknown store", func(c *Config) { c.SessionStore = "etcd" }, true},
		{"negative limit", func(c *Config) { c.DefaultTabChangeLimit = -1 }, true},
		{"zero poll", func(c *Config) { c.MonitorPollInterval = 0 }, true},
		{"zero keepalive", func(c *Config) { c.MonitorKeepalive = 0 }, true},
		{"negative ttl", func(c *Config) { c.SessionIdleTTL = -time.Second }, true},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{
				SessionStore:        SessionStoreRedis,
				MonitorPollInterval: time.Second,
				MonitorKeepalive:    time.Second,
				JWTSecret:           "secret",
			}
			tc.mutate(c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	if got := parseOrigins(""); got != nil {
		t.Errorf("parseOrigins(\"\") = %v, want nil", got)
	}
	got := parseOrigins(" https://a.test , ,https://b.test")
	if len(got) != 2 || got[0] != "https://a.test" || got[1] != "https://b.test" {
		t.Errorf("parseOrigins = %v", got)
	}
}
