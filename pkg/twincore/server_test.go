package twincore

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]string{"key": "value"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if body["key"] != "value" {
		t.Errorf("expected key=value, got %+v", body)
	}
}

func TestJSONNilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusNoContent, nil)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %s", rec.Body.String())
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusNotFound, "resource not found")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(env.Errors) != 1 {
		t.Fatalf("expected 1 error, got %+v", env)
	}
	if env.Errors[0].Code != "not_found" {
		t.Errorf("expected code not_found, got %s", env.Errors[0].Code)
	}
	if env.Errors[0].Message != "resource not found" {
		t.Errorf("unexpected message %q", env.Errors[0].Message)
	}
}

func TestStatusCode(t *testing.T) {
	cases := map[int]string{
		400: "bad_request",
		422: "unprocessable_entity",
		500: "internal_server_error",
		799: "unknown_error",
	}
	for status, want := range cases {
		if got := StatusCode(status); got != want {
			t.Errorf("StatusCode(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := ParseFlags("twin-clerk", []string{"--port", "4000", "--latency", "25ms", "--fail-rate", "0.1", "--verbose"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Name != "twin-clerk" || cfg.Port != 4000 || cfg.Latency != 25*time.Millisecond || cfg.FailRate != 0.1 || !cfg.Verbose {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestParseFlagsPortFromEnv(t *testing.T) {
	t.Setenv("PORT", "4100")
	cfg, err := ParseFlags("twin-clerk", nil)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Port != 4100 {
		t.Errorf("expected port 4100 from PORT, got %d", cfg.Port)
	}

	cfg, err = ParseFlags("twin-clerk", []string{"--port", "4200"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Port != 4200 {
		t.Errorf("flag must win over PORT, got %d", cfg.Port)
	}
}

func TestParseFlagsRejects(t *testing.T) {
	t.Setenv("PORT", "")
	for _, args := range [][]string{
		{"--fail-rate", "1.5"},
		{"--latency", "-1s"},
		{"--bogus"},
		{"extra"},
	} {
		if _, err := ParseFlags("twin-clerk", args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}

	t.Setenv("PORT", "eighty")
	if _, err := ParseFlags("twin-clerk", nil); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestNewTwin(t *testing.T) {
	cfg := &Config{Port: 9999, Name: "test-twin", Latency: time.Second, LogTo: io.Discard}
	twin := New(cfg)

	if twin.Config != cfg {
		t.Error("expected Config to match")
	}
	if twin.Router == nil || twin.Logger == nil || twin.Middleware() == nil {
		t.Fatal("expected router, logger and middleware to be set")
	}
	if twin.Middleware().Tuning().Latency != time.Second {
		t.Error("expected tuning to start from the config")
	}
}

func TestTwinServeHTTP(t *testing.T) {
	twin := New(&Config{Name: "test-twin", LogTo: io.Discard})
	twin.Router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"pong": "true"})
	})

	rec := httptest.NewRecorder()
	twin.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	entries := twin.Middleware().ReqLog.Entries()
	if len(entries) != 1 || entries[0].RequestID == "" {
		t.Errorf("expected request to be logged with a request id, got %+v", entries)
	}
}

func TestServeListenerStopsWithContext(t *testing.T) {
	twin := New(&Config{Name: "test-twin", LogTo: io.Discard})
	twin.Router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- twin.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return after cancel")
	}
}

func TestUpdateConfig(t *testing.T) {
	twin := New(&Config{Name: "test-twin", LogTo: io.Discard})

	err := twin.UpdateConfig(map[string]any{"latency": "10ms", "fail_rate": 0.25, "verbose": true})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	want := Tuning{Latency: 10 * time.Millisecond, FailRate: 0.25, Verbose: true}
	if got := twin.Middleware().Tuning(); got != want {
		t.Errorf("tuning = %+v, want %+v", got, want)
	}

	got := twin.GetConfig()
	if got["latency"] != "10ms" || got["fail_rate"] != 0.25 || got["verbose"] != true {
		t.Errorf("unexpected config view: %v", got)
	}
}

func TestUpdateConfigIsAtomic(t *testing.T) {
	twin := New(&Config{Name: "test-twin", LogTo: io.Discard})

	err := twin.UpdateConfig(map[string]any{"latency": "10ms", "fail_rate": 2.0})
	if err == nil {
		t.Fatal("expected error for out of range fail_rate")
	}
	if twin.Middleware().Tuning().Latency != 0 {
		t.Error("no update may be applied when validation fails")
	}

	for _, bad := range []map[string]any{
		{"port": 1},
		{"nope": true},
		{"latency": "-1s"},
		{"verbose": "yes"},
	} {
		if err := twin.UpdateConfig(bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}

func TestStatusRecorderExplicitCode(t *testing.T) {
	sr := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: 200}
	sr.WriteHeader(404)
	if sr.statusCode != 404 {
		t.Errorf("expected 404, got %d", sr.statusCode)
	}
}
