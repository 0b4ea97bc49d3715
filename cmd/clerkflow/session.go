package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
	"github.com/wondertwin-ai/clerkflow/pkg/factors"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// cookieFile stores the client cookies between runs, keyed by Frontend API,
// so that every invocation talks as the same browser.
const cookieFile = "cookies.json"

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// conn is a Core bound to the persisted client cookies.
type conn struct {
	core *resources.Core
	jar  http.CookieJar
	base *url.URL
	path string
}

func (a *app) cookiePath() string {
	return filepath.Join(filepath.Dir(a.configPath), cookieFile)
}

func (a *app) connect() (*conn, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", a.configPath, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	fc, err := fapi.New(a.cfg.FrontendAPI,
		fapi.WithLogger(a.logger),
		fapi.WithHTTPClient(&http.Client{Timeout: 30 * time.Second, Jar: jar}),
	)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(fc.BaseURL())
	if err != nil {
		return nil, err
	}
	path := a.cookiePath()
	if err := loadCookies(path, jar, base); err != nil {
		return nil, err
	}

	core := resources.NewCore(fc,
		resources.WithLogger(a.logger),
		resources.WithPollInterval(a.cfg.PollInterval.Duration),
		resources.WithMaxPollDuration(a.cfg.MaxPollDuration.Duration),
	)
	return &conn{core: core, jar: jar, base: base, path: path}, nil
}

// save writes the jar's cookies for this Frontend API back to disk.
func (c *conn) save() error {
	all := map[string][]storedCookie{}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &all); err != nil {
			return fmt.Errorf("parsing %s: %w", c.path, err)
		}
	}

	var cookies []storedCookie
	for _, ck := range c.jar.Cookies(c.base) {
		cookies = append(cookies, storedCookie{Name: ck.Name, Value: ck.Value})
	}
	key := c.base.String()
	if len(cookies) == 0 {
		delete(all, key)
	} else {
		all[key] = cookies
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

func loadCookies(path string, jar http.CookieJar, base *url.URL) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var all map[string][]storedCookie
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	stored := all[base.String()]
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, s := range stored {
		cookies = append(cookies, &http.Cookie{Name: s.Name, Value: s.Value, Path: "/"})
	}
	jar.SetCookies(base, cookies)
	return nil
}

// preference picks the first factor ordering: the config wins over the
// instance environment.
func (a *app) preference(env *resources.Environment) factors.Preference {
	if a.cfg.PreferredSignInStrategy != "" {
		return factors.Preference(a.cfg.PreferredSignInStrategy)
	}
	if env != nil {
		return factors.Preference(env.PreferredSignInStrategy)
	}
	return factors.PreferOTP
}

func (a *app) supportEmail(env *resources.Environment) string {
	if a.cfg.SupportEmail != "" {
		return a.cfg.SupportEmail
	}
	if env != nil && env.SupportEmail != "" {
		return env.SupportEmail
	}
	return "your administrator"
}
