package api

import (
	"errors"
	"testing"
	"time"
)

type fakeServerConfig struct {
	values  map[string]any
	updated map[string]any
	err     error
}

func (f *fakeServerConfig) GetConfig() map[string]any { return f.values }

func (f *fakeServerConfig) UpdateConfig(updates map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.updated = updates
	return nil
}

func TestDefaultSettingsAreValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"unknown strategy", func(s *Settings) { s.PreferredSignInStrategy = "magic" }},
		{"bad support email", func(s *Settings) { s.SupportEmail = "support" }},
		{"zero code ttl", func(s *Settings) { s.CodeTTL = 0 }},
		{"sub-second code ttl", func(s *Settings) { s.CodeTTL = time.Millisecond }},
		{"no attempts", func(s *Settings) { s.MaxCodeAttempts = 0 }},
		{"closed sign up", func(s *Settings) { s.SignUpMode = "closed" }},
		{"no name", func(s *Settings) { s.ApplicationName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestConfigProviderMergesServerConfig(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	server := &fakeServerConfig{values: map[string]any{"latency": "0s"}}
	cp := h.ConfigProvider(server)

	cfg := cp.GetConfig()
	if cfg["latency"] != "0s" || cfg["code_ttl"] != "10m0s" || cfg["sign_up_mode"] != SignUpModePublic {
		t.Errorf("unexpected config %v", cfg)
	}

	err := cp.UpdateConfig(map[string]any{
		"code_ttl":          "2m",
		"max_code_attempts": float64(5),
		"latency":           "5ms",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	s := h.Settings()
	if s.CodeTTL != 2*time.Minute || s.MaxCodeAttempts != 5 {
		t.Errorf("settings not applied: %+v", s)
	}
	if server.updated["latency"] != "5ms" || len(server.updated) != 1 {
		t.Errorf("expected only server keys forwarded, got %v", server.updated)
	}
}

func TestConfigProviderIsAllOrNothing(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	server := &fakeServerConfig{err: errors.New("bad latency")}
	cp := h.ConfigProvider(server)

	if err := cp.UpdateConfig(map[string]any{"max_code_attempts": float64(9), "latency": "x"}); err == nil {
		t.Fatal("expected the server error")
	}
	if h.Settings().MaxCodeAttempts != 3 {
		t.Error("settings changed although the server rejected its part")
	}

	if err := cp.UpdateConfig(map[string]any{"max_code_attempts": "many"}); err == nil {
		t.Error("expected a type error")
	}
	if err := cp.UpdateConfig(map[string]any{"code_ttl": "soon"}); err == nil {
		t.Error("expected a duration error")
	}
}

func TestConfigProviderWithoutServerRejectsUnknownKeys(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	if err := h.ConfigProvider(nil).UpdateConfig(map[string]any{"latency": "1s"}); err == nil {
		t.Error("expected unknown keys to be rejected")
	}
}

func TestSettingsCopyOAuthProviders(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	s := h.Settings()
	s.OAuthProviders[0] = "oauth_changed"
	if !h.oauthEnabled("oauth_google") || h.oauthEnabled("oauth_changed") {
		t.Error("Settings must return a copy")
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15555550100", "+1 ***-***-0100"},
		{"+447911123456", "+44 **** **3456"},
		{"not a phone", "not a phone"},
	}
	for _, tt := range tests {
		if got := maskPhone(tt.in); got != tt.want {
			t.Errorf("maskPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
