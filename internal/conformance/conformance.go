// Package conformance checks that a Frontend API answers in the shapes the
// resources package depends on: envelopes, piggybacked clients, error
// bodies and the client cookie.
package conformance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

// Result represents the outcome of a single conformance check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Report holds the results of a full conformance run.
type Report struct {
	Results []Result
	Passed  int
	Failed  int
}

// unknownIdentifier is an address no instance can hold.
const unknownIdentifier = "conformance-check@example.invalid"

// Run executes every check against the server behind req. The requester
// should keep cookies between calls, as fapi.HTTPClient does.
func Run(ctx context.Context, req fapi.Requester) *Report {
	report := &Report{}

	report.addResult(checkEnvironment(ctx, req))

	first := checkClientEnvelope(ctx, req)
	report.addResult(first.Result)
	if first.Passed {
		report.addResult(checkClientCookie(ctx, req, first.clientID))
	}

	report.addResult(checkIdentifierError(ctx, req))
	report.addResult(checkNotFound(ctx, req))

	for _, r := range report.Results {
		if r.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	return report
}

func (r *Report) addResult(res Result) {
	r.Results = append(r.Results, res)
}

func pass(name, detail string) Result {
	return Result{Name: name, Passed: true, Detail: detail}
}

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Passed: false, Detail: fmt.Sprintf(format, args...)}
}

func checkEnvironment(ctx context.Context, req fapi.Requester) Result {
	name := "GET /environment returns the instance settings"

	resp, err := req.Request(ctx, fapi.RequestInit{Method: http.MethodGet, Path: "/environment"})
	if err != nil {
		return fail(name, "request failed: %v", err)
	}
	if resp.Status != http.StatusOK {
		return fail(name, "expected 200, got %d", resp.Status)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(resp.Payload.Resource(), &env); err != nil {
		return fail(name, "body is not a JSON object: %v", err)
	}
	for _, key := range []string{"display_config", "user_settings"} {
		if _, ok := env[key]; !ok {
			return fail(name, "missing %q", key)
		}
	}
	return pass(name, "display_config and user_settings present")
}

type clientResult struct {
	Result
	clientID string
}

func fetchClientID(ctx context.Context, req fapi.Requester) (string, *fapi.Response, error) {
	resp, err := req.Request(ctx, fapi.RequestInit{Method: http.MethodGet, Path: "/client"})
	if err != nil {
		return "", nil, err
	}
	var c struct {
		ID string `json:"id"`
	}
	if raw := resp.Payload.Resource(); raw != nil {
		if err := json.Unmarshal(raw, &c); err != nil {
			return "", resp, fmt.Errorf("decoding client: %w", err)
		}
	}
	return c.ID, resp, nil
}

func checkClientEnvelope(ctx context.Context, req fapi.Requester) clientResult {
	name := "GET /client answers inside a response envelope"

	id, resp, err := fetchClientID(ctx, req)
	if err != nil {
		return clientResult{Result: fail(name, "request failed: %v", err)}
	}
	if resp.Status != http.StatusOK {
		return clientResult{Result: fail(name, "expected 200, got %d", resp.Status)}
	}
	if !resp.Payload.Wrapped() {
		return clientResult{Result: fail(name, `body has no "response" key`)}
	}
	return clientResult{Result: pass(name, "client "+id), clientID: id}
}

func checkClientCookie(ctx context.Context, req fapi.Requester, firstID string) Result {
	name := "The client survives between requests"

	if firstID == "" {
		return pass(name, "no client yet; nothing to compare")
	}
	id, _, err := fetchClientID(ctx, req)
	if err != nil {
		return fail(name, "request failed: %v", err)
	}
	if id != firstID {
		return fail(name, "expected client %s, got %q", firstID, id)
	}
	return pass(name, "same client on the second request")
}

func checkIdentifierError(ctx context.Context, req fapi.Requester) Result {
	name := "POST /client/sign_ins reports an unknown identifier as a field error"

	resp, err := req.Request(ctx, fapi.RequestInit{
		Method: http.MethodPost,
		Path:   "/client/sign_ins",
		Body:   map[string]string{"identifier": unknownIdentifier},
	})
	if err != nil {
		return fail(name, "request failed: %v", err)
	}
	if resp.Status < 400 || resp.Status >= 500 {
		return fail(name, "expected a 4xx status, got %d", resp.Status)
	}
	if resp.Payload == nil || len(resp.Payload.Errors) == 0 {
		return fail(name, "response has no errors[]")
	}
	e := resp.Payload.Errors[0]
	if e.Code != "form_identifier_not_found" {
		return fail(name, "expected form_identifier_not_found, got %q", e.Code)
	}
	if e.Meta == nil || e.Meta.ParamName != "identifier" {
		return fail(name, "error does not name the identifier param")
	}
	if resp.Payload.PiggybackedClient() == nil {
		return fail(name, "error carries no meta.client")
	}
	return pass(name, fmt.Sprintf("%d %s with meta.client", resp.Status, e.Code))
}

func checkNotFound(ctx context.Context, req fapi.Requester) Result {
	name := "GET on a missing sign-in attempt is a 404 with errors[]"

	resp, err := req.Request(ctx, fapi.RequestInit{Method: http.MethodGet, Path: "/client/sign_ins/sia_conformance_missing"})
	if err != nil {
		return fail(name, "request failed: %v", err)
	}
	if resp.Status != http.StatusNotFound {
		return fail(name, "expected 404, got %d", resp.Status)
	}
	if resp.Payload == nil || len(resp.Payload.Errors) == 0 {
		return fail(name, "response has no errors[]")
	}
	return pass(name, "404 "+resp.Payload.Errors[0].Code)
}
