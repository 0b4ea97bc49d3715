package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/clerkflow/pkg/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

type fakeState struct {
	data   map[string]string
	resets int
}

func newFakeState() *fakeState {
	return &fakeState{data: map[string]string{"client": "client_000001"}}
}

func (f *fakeState) Snapshot() any { return f.data }

func (f *fakeState) LoadState(data []byte) error {
	var d map[string]string
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	f.data = d
	return nil
}

func (f *fakeState) Reset() {
	f.resets++
	f.data = map[string]string{"client": "client_000001"}
}

type fakeSeeder struct {
	bodies []string
	err    error
}

func (f *fakeSeeder) SeedUser(data []byte) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bodies = append(f.bodies, string(data))
	return map[string]string{"id": "user_000001"}, nil
}

type fakeOutbox struct{ to string }

func (f *fakeOutbox) Outbox(to string) any {
	f.to = to
	return []map[string]string{{"to": to, "code": "424242"}}
}

type fakeConfig struct{ values map[string]any }

func (f *fakeConfig) GetConfig() map[string]any { return f.values }

func (f *fakeConfig) UpdateConfig(updates map[string]any) error {
	if _, ok := updates["port"]; ok {
		return errors.New("port cannot be changed at runtime")
	}
	for k, v := range updates {
		f.values[k] = v
	}
	return nil
}

type harness struct {
	url string
	mw  *twincore.Middleware
}

func newHarness(t *testing.T, state StateStore, opts ...Option) *harness {
	t.Helper()
	mw := twincore.NewMiddleware(&twincore.Config{Name: "admin-test"}, nil)
	r := chi.NewRouter()
	NewHandler(state, mw, opts...).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{url: srv.URL, mw: mw}
}

// call sends body to path and decodes the JSON answer into out when given.
func (h *harness) call(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, h.url+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	h := newHarness(t, newFakeState())
	var body map[string]string
	if code := h.call(t, http.MethodGet, "/admin/health", "", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", code, body)
	}
}

func TestResetClearsEverything(t *testing.T) {
	state := newFakeState()
	clk := store.NewClock()
	clk.Advance(time.Hour)
	h := newHarness(t, state, WithClock(clk))
	h.mw.Faults.Set("/v1/client", twincore.FaultConfig{StatusCode: 500})
	h.mw.ReqLog.Add(twincore.RequestLogEntry{Path: "/v1/client"})

	if code := h.call(t, http.MethodPost, "/admin/reset", "", nil); code != http.StatusOK {
		t.Fatalf("reset = %d", code)
	}
	if state.resets != 1 {
		t.Errorf("expected one state reset, got %d", state.resets)
	}
	if clk.Offset() != 0 {
		t.Errorf("expected clock offset to be reset, got %v", clk.Offset())
	}
	if len(h.mw.Faults.All()) != 0 {
		t.Error("expected faults to be cleared")
	}
	// the reset request itself is not logged: the middleware is not mounted here
	if len(h.mw.ReqLog.Entries()) != 0 {
		t.Error("expected request log to be cleared")
	}
}

func TestResetWithoutClock(t *testing.T) {
	state := newFakeState()
	h := newHarness(t, state)
	if code := h.call(t, http.MethodPost, "/admin/reset", "", nil); code != http.StatusOK || state.resets != 1 {
		t.Errorf("reset = %d, resets = %d", code, state.resets)
	}
}

func TestState(t *testing.T) {
	state := newFakeState()
	h := newHarness(t, state)

	var snap map[string]string
	h.call(t, http.MethodGet, "/admin/state", "", &snap)
	if snap["client"] != "client_000001" {
		t.Errorf("unexpected snapshot %v", snap)
	}

	if code := h.call(t, http.MethodPost, "/admin/state", `{"client":"client_000042"}`, nil); code != http.StatusOK {
		t.Errorf("load = %d", code)
	}
	if state.data["client"] != "client_000042" {
		t.Errorf("state not replaced: %v", state.data)
	}
	if code := h.call(t, http.MethodPost, "/admin/state", "{bad json", nil); code != http.StatusBadRequest {
		t.Errorf("bad load = %d", code)
	}
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	h := newHarness(t, newFakeState())

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/admin/users", `{}`, http.StatusNotImplemented},
		{http.MethodGet, "/admin/config", "", http.StatusNotImplemented},
		{http.MethodPatch, "/admin/config", `{}`, http.StatusNotImplemented},
		{http.MethodPost, "/admin/time/advance", `{"duration":"1h"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if code := h.call(t, tc.method, tc.path, tc.body, nil); code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, code, tc.want)
		}
	}

	var empty []any
	h.call(t, http.MethodGet, "/admin/outbox", "", &empty)
	if len(empty) != 0 {
		t.Errorf("expected empty outbox, got %v", empty)
	}

	var now map[string]any
	h.call(t, http.MethodGet, "/admin/time", "", &now)
	if _, ok := now["simulated"]; ok {
		t.Error("simulated time reported without a clock")
	}
}

func TestSeedUser(t *testing.T) {
	seeder := &fakeSeeder{}
	h := newHarness(t, newFakeState(), WithSeeder(seeder))

	if code := h.call(t, http.MethodPost, "/admin/users", `{"email_address":"ada@example.com"}`, nil); code != http.StatusCreated {
		t.Errorf("seed = %d", code)
	}
	if len(seeder.bodies) != 1 || !strings.Contains(seeder.bodies[0], "ada@example.com") {
		t.Errorf("seeder got %v", seeder.bodies)
	}

	seeder.err = errors.New("email taken")
	if code := h.call(t, http.MethodPost, "/admin/users", `{}`, nil); code != http.StatusBadRequest {
		t.Errorf("failed seed = %d", code)
	}
}

func TestOutboxFilter(t *testing.T) {
	outbox := &fakeOutbox{}
	h := newHarness(t, newFakeState(), WithOutbox(outbox))

	var msgs []map[string]string
	h.call(t, http.MethodGet, "/admin/outbox?to=ada%40example.com", "", &msgs)
	if outbox.to != "ada@example.com" || len(msgs) != 1 || msgs[0]["code"] != "424242" {
		t.Errorf("outbox to=%q msgs=%v", outbox.to, msgs)
	}
}

func TestConfig(t *testing.T) {
	cfg := &fakeConfig{values: map[string]any{"latency": "0s"}}
	h := newHarness(t, newFakeState(), WithConfig(cfg))

	var got map[string]any
	if code := h.call(t, http.MethodPatch, "/admin/config", `{"latency":"50ms"}`, &got); code != http.StatusOK {
		t.Fatalf("patch = %d", code)
	}
	if got["latency"] != "50ms" {
		t.Errorf("expected updated config in response, got %v", got)
	}
	if code := h.call(t, http.MethodPatch, "/admin/config", `{"port":1}`, nil); code != http.StatusBadRequest {
		t.Errorf("port patch = %d", code)
	}
	if code := h.call(t, http.MethodPatch, "/admin/config", `{bad`, nil); code != http.StatusBadRequest {
		t.Errorf("malformed patch = %d", code)
	}
}

func TestFaults(t *testing.T) {
	h := newHarness(t, newFakeState())

	code := h.call(t, http.MethodPost, "/admin/fault/v1/client/sign_ins/*",
		`{"status_code":422,"code":"form_password_incorrect"}`, nil)
	if code != http.StatusOK {
		t.Fatalf("inject = %d", code)
	}
	fault := h.mw.Faults.Check("/v1/client/sign_ins/sia_000001/attempt_first_factor")
	if fault == nil || fault.StatusCode != 422 || fault.Code != "form_password_incorrect" {
		t.Fatalf("unexpected fault %+v", fault)
	}

	var listed map[string]twincore.FaultConfig
	h.call(t, http.MethodGet, "/admin/faults", "", &listed)
	if _, ok := listed["/v1/client/sign_ins/*"]; !ok {
		t.Errorf("expected pattern in listing, got %v", listed)
	}

	if code := h.call(t, http.MethodDelete, "/admin/fault/v1/client/sign_ins/*", "", nil); code != http.StatusOK {
		t.Errorf("remove = %d", code)
	}
	if code := h.call(t, http.MethodDelete, "/admin/fault/v1/client/sign_ins/*", "", nil); code != http.StatusNotFound {
		t.Errorf("second remove = %d", code)
	}
}

func TestInjectFaultRejects(t *testing.T) {
	h := newHarness(t, newFakeState())
	for _, body := range []string{
		`{bad`,
		`{"status_code":422,"rate":1.5}`,
		`{"status_code":42}`,
		`{"status":422}`,
	} {
		if code := h.call(t, http.MethodPost, "/admin/fault/v1/client", body, nil); code != http.StatusBadRequest {
			t.Errorf("%s: got %d", body, code)
		}
	}
	if len(h.mw.Faults.All()) != 0 {
		t.Error("rejected faults must not be installed")
	}
}

func TestClearFaults(t *testing.T) {
	h := newHarness(t, newFakeState())
	h.mw.Faults.Set("/v1/client", twincore.FaultConfig{StatusCode: 500})
	h.mw.Faults.Set("/v1/environment", twincore.FaultConfig{StatusCode: 500})

	if code := h.call(t, http.MethodDelete, "/admin/faults", "", nil); code != http.StatusOK {
		t.Fatalf("clear = %d", code)
	}
	if len(h.mw.Faults.All()) != 0 {
		t.Error("expected no faults")
	}
}

func TestRequests(t *testing.T) {
	h := newHarness(t, newFakeState())
	h.mw.ReqLog.Add(twincore.RequestLogEntry{Method: "POST", Path: "/v1/client/sign_ins"})
	h.mw.ReqLog.Add(twincore.RequestLogEntry{Method: "GET", Path: "/v1/client/sign_ins/sia_000001"})
	h.mw.ReqLog.Add(twincore.RequestLogEntry{Method: "GET", Path: "/v1/environment"})

	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"/v1/client/sign_ins", "/v1/client/sign_ins/sia_000001", "/v1/environment"}},
		{"?method=get", []string{"/v1/client/sign_ins/sia_000001", "/v1/environment"}},
		{"?path=/v1/client", []string{"/v1/client/sign_ins", "/v1/client/sign_ins/sia_000001"}},
		{"?method=POST&path=/v1/environment", nil},
	}
	for _, tc := range cases {
		var got []twincore.RequestLogEntry
		h.call(t, http.MethodGet, "/admin/requests"+tc.query, "", &got)
		if len(got) != len(tc.want) {
			t.Errorf("%q: got %d entries, want %d", tc.query, len(got), len(tc.want))
			continue
		}
		for i, e := range got {
			if e.Path != tc.want[i] {
				t.Errorf("%q: entry %d = %s, want %s", tc.query, i, e.Path, tc.want[i])
			}
		}
	}

	if code := h.call(t, http.MethodDelete, "/admin/requests", "", nil); code != http.StatusOK {
		t.Fatalf("clear = %d", code)
	}
	if len(h.mw.ReqLog.Entries()) != 0 {
		t.Error("expected request log to be empty")
	}
}

func TestTimeAdvance(t *testing.T) {
	clk := store.NewClock()
	h := newHarness(t, newFakeState(), WithClock(clk))

	var result map[string]any
	if code := h.call(t, http.MethodPost, "/admin/time/advance", `{"duration":"10m"}`, &result); code != http.StatusOK {
		t.Fatalf("advance = %d", code)
	}
	if result["status"] != "advanced" || result["offset"] != "10m0s" {
		t.Errorf("unexpected response %v", result)
	}

	var now map[string]any
	h.call(t, http.MethodGet, "/admin/time", "", &now)
	if now["offset"] != "10m0s" || now["simulated"] == nil {
		t.Errorf("unexpected time %v", now)
	}

	for _, body := range []string{`{"duration":"soon"}`, `{"duration":"-5m"}`, `{bad`} {
		if code := h.call(t, http.MethodPost, "/admin/time/advance", body, nil); code != http.StatusBadRequest {
			t.Errorf("%s: got %d", body, code)
		}
	}
	if clk.Offset() != 10*time.Minute {
		t.Errorf("rejected advances must not move the clock, offset %v", clk.Offset())
	}
}
