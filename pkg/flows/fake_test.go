package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// scriptedFAPI answers each request with the next canned response queued for
// its method and path.
type scriptedFAPI struct {
	mu      sync.Mutex
	scripts map[string][]scripted
	calls   []fapi.RequestInit
}

type scripted struct {
	status int
	body   string
	err    error
}

func newScriptedFAPI() *scriptedFAPI {
	return &scriptedFAPI{scripts: map[string][]scripted{}}
}

func (f *scriptedFAPI) on(method, path string, status int, body string) *scriptedFAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.scripts[key] = append(f.scripts[key], scripted{status: status, body: body})
	return f
}

func (f *scriptedFAPI) fail(method, path string, err error) *scriptedFAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.scripts[key] = append(f.scripts[key], scripted{err: err})
	return f
}

func (f *scriptedFAPI) Request(_ context.Context, init fapi.RequestInit) (*fapi.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, init)
	key := init.Method + " " + init.Path
	queue := f.scripts[key]
	if len(queue) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("scripted: unexpected %s", key)
	}
	s := queue[0]
	// the last response for a route keeps answering
	if len(queue) > 1 {
		f.scripts[key] = queue[1:]
	}
	f.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	resp := &fapi.Response{Status: s.status, StatusText: http.StatusText(s.status)}
	if s.body != "" {
		payload, err := fapi.Decode([]byte(s.body))
		if err != nil {
			return nil, err
		}
		resp.Payload = payload
	}
	return resp, nil
}

func (f *scriptedFAPI) callsTo(method, path string) []fapi.RequestInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fapi.RequestInit
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// recorder stands in for the navigator, the session activator and the alerter.
type recorder struct {
	mu         sync.Mutex
	routes     []string
	activated  []string
	alerts     []string
	afterCalls int
}

func (r *recorder) Navigate(_ context.Context, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, to)
	return nil
}

func (r *recorder) SetSession(ctx context.Context, sessionID string, after func(context.Context) error) error {
	r.mu.Lock()
	r.activated = append(r.activated, sessionID)
	r.mu.Unlock()
	if after != nil {
		return after(ctx)
	}
	return nil
}

func (r *recorder) Alert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

func newTestConfig(f *scriptedFAPI, r *recorder) Config {
	core := resources.NewCore(f)
	return Config{
		Core:                 core,
		Navigator:            r,
		Sessions:             r,
		Alerter:              r,
		SupportEmail:         "help@example.com",
		MagicLinkRedirectURL: "http://app.test/verified",
		AfterSignIn: func(context.Context) error {
			r.mu.Lock()
			r.afterCalls++
			r.mu.Unlock()
			return nil
		},
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func ok(resource any) string {
	return mustJSON(map[string]any{"response": resource, "client": nil})
}

type apiErr struct {
	code      string
	param     string
	sessionID string
}

func failure(errs ...apiErr) string {
	list := make([]any, 0, len(errs))
	for _, e := range errs {
		item := map[string]any{"code": e.code, "message": e.code, "long_message": "long " + e.code}
		meta := map[string]any{}
		if e.param != "" {
			meta["param_name"] = e.param
		}
		if e.sessionID != "" {
			meta["session_id"] = e.sessionID
		}
		item["meta"] = meta
		list = append(list, item)
	}
	return mustJSON(map[string]any{"errors": list})
}

func signIn(id, status string, extra map[string]any) map[string]any {
	m := map[string]any{
		"object":     "sign_in_attempt",
		"id":         id,
		"status":     status,
		"identifier": "ada@example.com",
		"supported_first_factors": []any{
			map[string]any{"strategy": "password"},
			map[string]any{"strategy": "email_code", "email_address_id": "idn_1", "safe_identifier": "ada@example.com"},
			map[string]any{"strategy": "email_link", "email_address_id": "idn_1", "safe_identifier": "ada@example.com"},
		},
		"supported_second_factors":   []any{},
		"first_factor_verification":  nil,
		"second_factor_verification": nil,
	}
	if status == "complete" {
		m["created_session_id"] = "sess_1"
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func signUp(id, status string, extra map[string]any) map[string]any {
	m := map[string]any{
		"object":                      "sign_up_attempt",
		"id":                          id,
		"status":                      status,
		"missing_fields":              []string{},
		"unverified_fields":           []string{},
		"identification_requirements": [][]string{{"email_address"}},
		"verifications":               map[string]any{},
	}
	if status == "complete" {
		m["created_session_id"] = "sess_1"
		m["created_user_id"] = "user_1"
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}
