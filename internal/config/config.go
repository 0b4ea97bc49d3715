// Package config loads and manages the clerkflow CLI configuration file
// stored at ~/.clerkflow/config.yaml.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is the directory under the user's home for CLI state.
const DefaultConfigDir = ".clerkflow"

// DefaultConfigFile is the config file name within the config directory.
const DefaultConfigFile = "config.yaml"

// Environment variables that override the file.
const (
	EnvConfig      = "CLERKFLOW_CONFIG"
	EnvFrontendAPI = "CLERKFLOW_FRONTEND_API"
)

// DefaultPollInterval is how often magic link flows poll when unset.
const DefaultPollInterval = time.Second

// ErrUnknownKey is returned by Get and Set for keys the file does not have.
var ErrUnknownKey = errors.New("config: unknown key")

// Duration is a time.Duration written as "1s", "500ms" in config files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Config represents the contents of ~/.clerkflow/config.yaml. An empty
// PreferredSignInStrategy or SupportEmail defers to the instance environment.
type Config struct {
	FrontendAPI             string   `yaml:"frontend_api" json:"frontend_api"`
	PreferredSignInStrategy string   `yaml:"preferred_sign_in_strategy,omitempty" json:"preferred_sign_in_strategy,omitempty"`
	SupportEmail            string   `yaml:"support_email,omitempty" json:"support_email,omitempty"`
	DefaultRegion           string   `yaml:"default_region,omitempty" json:"default_region,omitempty"`
	PollInterval            Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxPollDuration         Duration `yaml:"max_poll_duration,omitempty" json:"max_poll_duration,omitempty"`
	AfterSignInURL          string   `yaml:"after_sign_in_url,omitempty" json:"after_sign_in_url,omitempty"`
	AfterSignUpURL          string   `yaml:"after_sign_up_url,omitempty" json:"after_sign_up_url,omitempty"`
}

var regionCode = regexp.MustCompile(`^[A-Z]{2}$`)

// Validate checks a loaded config before it is used to talk to a server.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FrontendAPI, validation.Required, is.URL),
		validation.Field(&c.PreferredSignInStrategy, validation.In("otp", "password")),
		validation.Field(&c.SupportEmail, is.Email),
		validation.Field(&c.DefaultRegion, validation.Match(regionCode)),
		validation.Field(&c.PollInterval, validation.By(positive)),
		validation.Field(&c.MaxPollDuration, validation.By(nonNegative)),
		validation.Field(&c.AfterSignInURL, is.URL),
		validation.Field(&c.AfterSignUpURL, is.URL),
	)
}

func positive(v any) error {
	if d, _ := v.(Duration); d.Duration <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func nonNegative(v any) error {
	if d, _ := v.(Duration); d.Duration < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		DefaultRegion: "US",
		PollInterval:  Duration{DefaultPollInterval},
	}
}

// Path returns the config file location: $CLERKFLOW_CONFIG if set, otherwise
// ~/.clerkflow/config.yaml.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Load reads the config from Path and applies environment overrides.
// Returns a default config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// LoadFrom reads the config at path. Files ending in .json are read as JSON,
// anything else as YAML. Fields the file leaves out keep their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if isJSON(path) {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvFrontendAPI); v != "" {
		c.FrontendAPI = v
	}
}

// Save writes the config to Path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes the config to path in the format its extension names.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// field binds a config key to its value for Get and Set.
type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func durationField(p func(*Config) *Duration) field {
	return field{
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, v string) error { return p(c).parse(v) },
	}
}

var fields = map[string]field{
	"frontend_api":               stringField(func(c *Config) *string { return &c.FrontendAPI }),
	"preferred_sign_in_strategy": stringField(func(c *Config) *string { return &c.PreferredSignInStrategy }),
	"support_email":              stringField(func(c *Config) *string { return &c.SupportEmail }),
	"default_region":             stringField(func(c *Config) *string { return &c.DefaultRegion }),
	"poll_interval":              durationField(func(c *Config) *Duration { return &c.PollInterval }),
	"max_poll_duration":          durationField(func(c *Config) *Duration { return &c.MaxPollDuration }),
	"after_sign_in_url":          stringField(func(c *Config) *string { return &c.AfterSignInURL }),
	"after_sign_up_url":          stringField(func(c *Config) *string { return &c.AfterSignUpURL }),
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of key as it would be written in the file.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// Set parses value into key. The result is not validated; call Validate.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := f.set(c, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}
