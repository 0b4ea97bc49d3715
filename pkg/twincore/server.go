// Package twincore provides the base HTTP server, CLI flags, middleware chain,
// and response helpers for the local Frontend API twin.
package twincore

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Config is the twin's startup configuration.
type Config struct {
	Name     string // used as the "twin" log attribute
	Port     int
	Latency  time.Duration
	FailRate float64
	SeedFile string
	Verbose  bool
	LogTo    io.Writer // defaults to stdout
}

// ParseFlags reads the twin flags from args (without the program name).
// PORT from the environment is used when --port is absent.
func ParseFlags(name string, args []string) (*Config, error) {
	cfg := &Config{Name: name}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", 0, "HTTP listen port")
	fs.DurationVar(&cfg.Latency, "latency", 0, "base simulated latency per request")
	fs.Float64Var(&cfg.FailRate, "fail-rate", 0, "share of requests answered with 500, 0.0-1.0")
	fs.StringVar(&cfg.SeedFile, "seed-file", "", "JSON state loaded at startup")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "debug logging and request headers in the request log")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	if cfg.Port == 0 {
		if p := os.Getenv("PORT"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid PORT %q: %w", p, err)
			}
			cfg.Port = port
		}
	}
	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return nil, errors.New("--fail-rate must be between 0.0 and 1.0")
	}
	if cfg.Latency < 0 {
		return nil, errors.New("--latency must not be negative")
	}
	return cfg, nil
}

// Twin is a chi router with the shared middleware chain mounted.
type Twin struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger
	mw     *Middleware
}

// New builds a Twin from cfg.
func New(cfg *Config) *Twin {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	out := cfg.LogTo
	if out == nil {
		out = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})).
		With("twin", cfg.Name)

	mw := NewMiddleware(cfg, logger)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)
	r.Use(mw.LatencyInjection)
	r.Use(mw.RandomFailure)

	return &Twin{Config: cfg, Router: r, Logger: logger, mw: mw}
}

// Middleware returns the shared request log, fault registry and tuning.
func (t *Twin) Middleware() *Middleware {
	return t.mw
}

// GetConfig reports the startup settings together with the current tuning.
func (t *Twin) GetConfig() map[string]any {
	tun := t.mw.Tuning()
	return map[string]any{
		"name":      t.Config.Name,
		"port":      t.Config.Port,
		"latency":   tun.Latency.String(),
		"fail_rate": tun.FailRate,
		"verbose":   tun.Verbose,
	}
}

// tuningKeys are the keys PATCH /admin/config may change on a running twin.
var tuningKeys = map[string]func(*Tuning, any) error{
	"latency": func(t *Tuning, v any) error {
		s, ok := v.(string)
		if !ok {
			return errors.New("latency must be a duration string")
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid latency duration: %w", err)
		}
		if d < 0 {
			return errors.New("latency must not be negative")
		}
		t.Latency = d
		return nil
	},
	"fail_rate": func(t *Tuning, v any) error {
		f, ok := v.(float64)
		if !ok {
			return errors.New("fail_rate must be a number")
		}
		if f < 0 || f > 1 {
			return errors.New("fail_rate must be between 0.0 and 1.0")
		}
		t.FailRate = f
		return nil
	},
	"verbose": func(t *Tuning, v any) error {
		b, ok := v.(bool)
		if !ok {
			return errors.New("verbose must be a boolean")
		}
		t.Verbose = b
		return nil
	},
}

// UpdateConfig applies latency, fail_rate and verbose. Nothing changes
// unless every key is valid.
func (t *Twin) UpdateConfig(updates map[string]any) error {
	next := t.mw.Tuning()
	for k, v := range updates {
		set, ok := tuningKeys[k]
		if !ok {
			if k == "name" || k == "port" {
				return fmt.Errorf("%s cannot be changed at runtime", k)
			}
			return fmt.Errorf("unknown config key: %s", k)
		}
		if err := set(&next, v); err != nil {
			return err
		}
	}
	t.mw.SetTuning(next)
	return nil
}

// Serve listens on the configured port until ctx is done, then shuts down
// gracefully.
func (t *Twin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.Config.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return t.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (t *Twin) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      t.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		t.Logger.Info("starting twin", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	t.Logger.Info("shutting down twin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP lets a Twin be mounted directly in httptest servers.
func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Router.ServeHTTP(w, r)
}

// JSON writes v as a JSON body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// ErrorBody is a single entry of the FAPI error envelope.
type ErrorBody struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	LongMessage string         `json:"long_message,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// ErrorEnvelope is the body of every non-2xx FAPI response.
type ErrorEnvelope struct {
	Errors []ErrorBody         `json:"errors"`
	Meta   *ErrorEnvelopeMeta `json:"meta,omitempty"`
}

// ErrorEnvelopeMeta carries the piggybacked client on error responses.
type ErrorEnvelopeMeta struct {
	Client any `json:"client,omitempty"`
}

// Error writes a one-entry error envelope coded after the status text.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorEnvelope{Errors: []ErrorBody{{
		Code:    StatusCode(status),
		Message: message,
	}}})
}

// StatusCode turns an HTTP status into a snake_case code, 404 -> "not_found".
func StatusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "unknown_error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}
