package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Environment is the instance configuration the Frontend API advertises.
// It is read once at startup and never mutated.
type Environment struct {
	ApplicationName         string
	InstanceType            string
	PreferredSignInStrategy string
	SupportEmail            string
	HomeURL                 string
	AfterSignInURL          string
	AfterSignUpURL          string
	SignUpMode              string
	PasswordMinLength       int
	// SocialProviders lists the enabled OAuth strategies, sorted.
	SocialProviders []Strategy
	MaintenanceMode bool
}

type environmentJSON struct {
	DisplayConfig struct {
		ApplicationName         string `json:"application_name"`
		InstanceEnvironmentType string `json:"instance_environment_type"`
		PreferredSignInStrategy string `json:"preferred_sign_in_strategy"`
		SupportEmail            string `json:"support_email"`
		HomeURL                 string `json:"home_url"`
		AfterSignInURL          string `json:"after_sign_in_url"`
		AfterSignUpURL          string `json:"after_sign_up_url"`
	} `json:"display_config"`
	UserSettings struct {
		Social map[string]struct {
			Enabled  bool   `json:"enabled"`
			Strategy string `json:"strategy"`
		} `json:"social"`
		PasswordSettings struct {
			MinLength int `json:"min_length"`
		} `json:"password_settings"`
		SignUp struct {
			Mode string `json:"mode"`
		} `json:"sign_up"`
	} `json:"user_settings"`
	MaintenanceMode bool `json:"maintenance_mode"`
}

func environmentFromJSON(data json.RawMessage) (*Environment, error) {
	var in environmentJSON
	if err := decodeJSON(data, &in); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	env := &Environment{
		ApplicationName:         in.DisplayConfig.ApplicationName,
		InstanceType:            in.DisplayConfig.InstanceEnvironmentType,
		PreferredSignInStrategy: in.DisplayConfig.PreferredSignInStrategy,
		SupportEmail:            in.DisplayConfig.SupportEmail,
		HomeURL:                 in.DisplayConfig.HomeURL,
		AfterSignInURL:          in.DisplayConfig.AfterSignInURL,
		AfterSignUpURL:          in.DisplayConfig.AfterSignUpURL,
		SignUpMode:              in.UserSettings.SignUp.Mode,
		PasswordMinLength:       in.UserSettings.PasswordSettings.MinLength,
		MaintenanceMode:         in.MaintenanceMode,
	}
	for name, p := range in.UserSettings.Social {
		if !p.Enabled {
			continue
		}
		s := Strategy(p.Strategy)
		if s == "" {
			s = Strategy(name)
		}
		env.SocialProviders = append(env.SocialProviders, s)
	}
	sort.Slice(env.SocialProviders, func(i, j int) bool { return env.SocialProviders[i] < env.SocialProviders[j] })
	return env, nil
}

// LoadEnvironment fetches GET /environment.
func (c *Core) LoadEnvironment(ctx context.Context) (*Environment, error) {
	payload, err := c.request(ctx, fapiInit(http.MethodGet, "/environment", nil), fetchOptions{})
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	data := payload.Resource()
	if data == nil {
		return nil, errors.New("resources: environment response was empty")
	}
	return environmentFromJSON(data)
}
