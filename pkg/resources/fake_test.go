package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

// fakeFAPI answers requests from a queue of canned responses and records what
// it was asked.
type fakeFAPI struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []fapi.RequestInit
	// fallback answers every request once the queue is empty.
	fallback *fakeResponse
}

type fakeResponse struct {
	status int
	body   string
	err    error
	// block, when set, is waited on before answering.
	block chan struct{}
}

func (f *fakeFAPI) push(status int, body string) *fakeFAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{status: status, body: body})
	return f
}

func (f *fakeFAPI) Request(ctx context.Context, init fapi.RequestInit) (*fapi.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, init)
	var r fakeResponse
	switch {
	case len(f.responses) > 0:
		r = f.responses[0]
		f.responses = f.responses[1:]
	case f.fallback != nil:
		r = *f.fallback
	default:
		f.mu.Unlock()
		return nil, fmt.Errorf("fake: unexpected %s %s", init.Method, init.Path)
	}
	f.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	resp := &fapi.Response{Status: r.status, StatusText: http.StatusText(r.status)}
	if r.body != "" {
		payload, err := fapi.Decode([]byte(r.body))
		if err != nil {
			return nil, err
		}
		resp.Payload = payload
	}
	return resp, nil
}

func (f *fakeFAPI) Calls() []fapi.RequestInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fapi.RequestInit(nil), f.calls...)
}

func envelope(response any, client any) string {
	m := map[string]any{"response": response}
	if client != nil {
		m["client"] = client
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func errorBody(code, paramName string, client any) string {
	e := map[string]any{"code": code, "message": code, "long_message": "long " + code}
	if paramName != "" {
		e["meta"] = map[string]any{"param_name": paramName}
	}
	m := map[string]any{"errors": []any{e}}
	if client != nil {
		m["meta"] = map[string]any{"client": client}
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func signInJSONMap(id, status string) map[string]any {
	m := map[string]any{
		"object":     "sign_in_attempt",
		"id":         id,
		"status":     status,
		"identifier": "jane@example.com",
		"supported_first_factors": []any{
			map[string]any{"strategy": "password"},
			map[string]any{"strategy": "email_code", "email_address_id": "idn_1", "safe_identifier": "j***@example.com"},
		},
		"first_factor_verification":  nil,
		"second_factor_verification": nil,
	}
	if status == "complete" {
		m["created_session_id"] = "sess_1"
	}
	return m
}

func clientJSONMap(id string, sessions ...string) map[string]any {
	list := make([]any, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, map[string]any{"object": "session", "id": s, "status": "active"})
	}
	last := ""
	if len(sessions) > 0 {
		last = sessions[len(sessions)-1]
	}
	return map[string]any{
		"object":                 "client",
		"id":                     id,
		"sessions":               list,
		"sign_in":                nil,
		"sign_up":                nil,
		"last_active_session_id": last,
	}
}
