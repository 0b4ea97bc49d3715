package api

import (
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/wondertwin-ai/clerkflow/pkg/admin"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// Password and username limits advertised in the environment and enforced
// on sign-up.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
	MinUsernameLength = 4
	MaxUsernameLength = 64
)

// Sign-up modes.
const (
	SignUpModePublic     = "public"
	SignUpModeRestricted = "restricted"
)

// Settings is the instance configuration the twin advertises and enforces.
type Settings struct {
	ApplicationName         string
	PreferredSignInStrategy string
	SupportEmail            string
	AfterSignInURL          string
	AfterSignUpURL          string
	// CodeTTL bounds one-time codes, magic links and OAuth states.
	CodeTTL time.Duration
	// MaxCodeAttempts is how many wrong codes fail a verification.
	MaxCodeAttempts int
	// OAuthProviders lists the enabled social strategies, e.g. "oauth_google".
	OAuthProviders []string
	// SignUpMode is public, or restricted to invitation tickets.
	SignUpMode string
}

// DefaultSettings returns the settings of a fresh development instance.
func DefaultSettings() Settings {
	return Settings{
		ApplicationName:         "Clerkflow Twin",
		PreferredSignInStrategy: "password",
		SupportEmail:            "support@clerkflow.dev",
		AfterSignInURL:          "/",
		AfterSignUpURL:          "/",
		CodeTTL:                 10 * time.Minute,
		MaxCodeAttempts:         3,
		OAuthProviders:          []string{"oauth_google", "oauth_github"},
		SignUpMode:              SignUpModePublic,
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ApplicationName, validation.Required),
		validation.Field(&s.PreferredSignInStrategy, validation.Required, validation.In("password", "otp")),
		validation.Field(&s.SupportEmail, is.Email),
		validation.Field(&s.CodeTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.MaxCodeAttempts, validation.Required, validation.Min(1)),
		validation.Field(&s.SignUpMode, validation.Required, validation.In(SignUpModePublic, SignUpModeRestricted)),
	)
}

// Settings returns a copy of the current settings.
func (h *Handler) Settings() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.settings
	s.OAuthProviders = append([]string(nil), h.settings.OAuthProviders...)
	return s
}

// SetSettings replaces the settings after validating them.
func (h *Handler) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()
	return nil
}

func (h *Handler) oauthEnabled(strategy string) bool {
	for _, p := range h.Settings().OAuthProviders {
		if p == strategy {
			return true
		}
	}
	return false
}

// GetEnvironment handles GET /v1/environment.
func (h *Handler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	s := h.Settings()

	social := map[string]any{}
	for _, p := range s.OAuthProviders {
		social[p] = map[string]any{"enabled": true, "strategy": p}
	}

	twincore.JSON(w, http.StatusOK, map[string]any{
		"object": "environment",
		"id":     "env_twin",
		"auth_config": map[string]any{
			"object":              "auth_config",
			"id":                  "aconf_twin",
			"single_session_mode": false,
		},
		"display_config": map[string]any{
			"object":                     "display_config",
			"id":                         "dconf_twin",
			"application_name":           s.ApplicationName,
			"instance_environment_type":  "development",
			"preferred_sign_in_strategy": s.PreferredSignInStrategy,
			"support_email":              s.SupportEmail,
			"home_url":                   baseURL(r),
			"sign_in_url":                "/sign-in",
			"sign_up_url":                "/sign-up",
			"after_sign_in_url":          s.AfterSignInURL,
			"after_sign_up_url":          s.AfterSignUpURL,
		},
		"user_settings": map[string]any{
			"attributes": map[string]any{
				"email_address": map[string]any{
					"enabled":                true,
					"required":               true,
					"used_for_first_factor":  true,
					"first_factors":          []string{"email_code", "email_link"},
					"used_for_second_factor": false,
					"verifications":          []string{"email_code", "email_link"},
					"verify_at_sign_up":      true,
				},
				"phone_number": map[string]any{
					"enabled":                true,
					"required":               false,
					"used_for_first_factor":  true,
					"first_factors":          []string{"phone_code"},
					"used_for_second_factor": true,
					"second_factors":         []string{"phone_code"},
					"verifications":          []string{"phone_code"},
					"verify_at_sign_up":      true,
				},
				"username": map[string]any{
					"enabled":  true,
					"required": false,
				},
				"password": map[string]any{
					"enabled":  true,
					"required": true,
				},
				"authenticator_app": map[string]any{
					"enabled":                true,
					"used_for_second_factor": true,
					"second_factors":         []string{"totp"},
				},
				"backup_code": map[string]any{
					"enabled":                true,
					"used_for_second_factor": true,
					"second_factors":         []string{"backup_code"},
				},
			},
			"social": social,
			"password_settings": map[string]any{
				"min_length": MinPasswordLength,
				"max_length": MaxPasswordLength,
			},
			"username_settings": map[string]any{
				"min_length": MinUsernameLength,
				"max_length": MaxUsernameLength,
			},
			"sign_up": map[string]any{
				"mode":        s.SignUpMode,
				"progressive": true,
			},
		},
		"maintenance_mode": false,
	})
}

// settingsKeys are the /admin/config keys served by the API handler rather
// than the server.
var settingsKeys = map[string]bool{
	"application_name":           true,
	"preferred_sign_in_strategy": true,
	"support_email":              true,
	"code_ttl":                   true,
	"max_code_attempts":          true,
	"sign_up_mode":               true,
}

// ConfigProvider combines the server's runtime config with the instance
// settings for GET and PATCH /admin/config.
func (h *Handler) ConfigProvider(server admin.ConfigProvider) admin.ConfigProvider {
	return &configProvider{server: server, h: h}
}

type configProvider struct {
	server admin.ConfigProvider
	h      *Handler
}

func (c *configProvider) GetConfig() map[string]any {
	out := map[string]any{}
	if c.server != nil {
		for k, v := range c.server.GetConfig() {
			out[k] = v
		}
	}
	s := c.h.Settings()
	out["application_name"] = s.ApplicationName
	out["preferred_sign_in_strategy"] = s.PreferredSignInStrategy
	out["support_email"] = s.SupportEmail
	out["code_ttl"] = s.CodeTTL.String()
	out["max_code_attempts"] = s.MaxCodeAttempts
	out["sign_up_mode"] = s.SignUpMode
	return out
}

// UpdateConfig validates every settings key before forwarding the rest to the
// server, and applies the settings only once the server accepted its part.
func (c *configProvider) UpdateConfig(updates map[string]any) error {
	s := c.h.Settings()
	rest := map[string]any{}
	for k, v := range updates {
		if !settingsKeys[k] {
			rest[k] = v
			continue
		}
		if err := applySetting(&s, k, v); err != nil {
			return err
		}
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if len(rest) > 0 {
		if c.server == nil {
			return fmt.Errorf("unknown config keys: %v", rest)
		}
		if err := c.server.UpdateConfig(rest); err != nil {
			return err
		}
	}
	return c.h.SetSettings(s)
}

func applySetting(s *Settings, key string, v any) error {
	switch key {
	case "code_ttl":
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("code_ttl must be a duration string")
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("invalid code_ttl: %w", err)
		}
		s.CodeTTL = d
	case "max_code_attempts":
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("max_code_attempts must be a number")
		}
		s.MaxCodeAttempts = int(f)
	default:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		switch key {
		case "application_name":
			s.ApplicationName = str
		case "preferred_sign_in_strategy":
			s.PreferredSignInStrategy = str
		case "support_email":
			s.SupportEmail = str
		case "sign_up_mode":
			s.SignUpMode = str
		}
	}
	return nil
}
