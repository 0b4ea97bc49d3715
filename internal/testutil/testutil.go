// Package testutil provides the HTTP twin client, admin client and assertion
// helpers used to test against the Frontend API twin.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/wondertwin-ai/clerkflow/internal/twin"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// StartTwin starts a twin on an httptest server that is closed with the test.
func StartTwin(t *testing.T) (*twin.Server, *httptest.Server) {
	t.Helper()
	srv, err := twin.New(&twincore.Config{Name: "twin-clerk", LogTo: io.Discard})
	if err != nil {
		t.Fatalf("failed to build twin: %v", err)
	}
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)
	return srv, server
}

// TwinClient is an HTTP client for interacting with a twin in tests. Each
// client has its own cookie jar, so two clients act as two browsers.
// Redirects are returned, not followed.
type TwinClient struct {
	BaseURL    string
	HTTPClient *http.Client
	t          *testing.T
}

// NewTwinClient creates a client pointed at a test server.
func NewTwinClient(t *testing.T, server *httptest.Server) *TwinClient {
	return NewTwinClientURL(t, server.URL)
}

// NewTwinClientURL creates a client pointed at a specific URL.
func NewTwinClientURL(t *testing.T, baseURL string) *TwinClient {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	noFollow := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &TwinClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Jar: jar, CheckRedirect: noFollow},
		t:          t,
	}
}

// Cookie returns the value of the named cookie held for the twin, or "".
func (c *TwinClient) Cookie(name string) string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		c.t.Fatalf("bad base url: %v", err)
	}
	for _, ck := range c.HTTPClient.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// Response is a fully read twin response bound to the test.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON decodes the body into v and fails the test if it cannot.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("decode %d response: %v\nbody: %s", r.StatusCode, err, r.Body)
	}
}

// JSONMap decodes the body as an object.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// Resource returns the "response" member of an enveloped body.
func (r *Response) Resource() map[string]any {
	r.t.Helper()
	m, _ := r.JSONMap()["response"].(map[string]any)
	if m == nil {
		r.t.Fatalf("response has no resource: %s", r.Body)
	}
	return m
}

// ErrorCode returns the code of the first entry of an error envelope.
func (r *Response) ErrorCode() string {
	r.t.Helper()
	var env twincore.ErrorEnvelope
	r.JSON(&env)
	if len(env.Errors) == 0 {
		r.t.Fatalf("response has no errors: %s", r.Body)
	}
	return env.Errors[0].Code
}

// AssertStatus reports a test error unless the status is want.
func (r *Response) AssertStatus(want int) *Response {
	r.t.Helper()
	if r.StatusCode != want {
		r.t.Errorf("status = %d, want %d\nbody: %s", r.StatusCode, want, r.Body)
	}
	return r
}

// AssertBodyContains reports a test error unless the body contains substr.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !bytes.Contains(r.Body, []byte(substr)) {
		r.t.Errorf("body does not contain %q: %s", substr, r.Body)
	}
	return r
}

// Get performs a GET request.
func (c *TwinClient) Get(path string) *Response {
	c.t.Helper()
	return c.send(c.request(http.MethodGet, c.BaseURL+path, nil, ""))
}

// Post performs a POST request with a JSON body.
func (c *TwinClient) Post(path string, body any) *Response {
	c.t.Helper()
	return c.DoWithHeaders(http.MethodPost, path, body, nil)
}

// Patch performs a PATCH request with a JSON body.
func (c *TwinClient) Patch(path string, body any) *Response {
	c.t.Helper()
	return c.DoWithHeaders(http.MethodPatch, path, body, nil)
}

// Delete performs a DELETE request.
func (c *TwinClient) Delete(path string) *Response {
	c.t.Helper()
	return c.send(c.request(http.MethodDelete, c.BaseURL+path, nil, ""))
}

// PostForm performs a POST with a form-encoded body, the way browser SDKs
// talk to the Frontend API.
func (c *TwinClient) PostForm(path string, values map[string]string) *Response {
	c.t.Helper()
	form := url.Values{}
	for k, v := range values {
		form.Set(k, v)
	}
	body := strings.NewReader(form.Encode())
	return c.send(c.request(http.MethodPost, c.BaseURL+path, body, "application/x-www-form-urlencoded"))
}

// DoWithHeaders sends body as JSON, when non-nil, with extra headers set.
func (c *TwinClient) DoWithHeaders(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	var (
		r           io.Reader
		contentType string
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
		r, contentType = bytes.NewReader(data), "application/json"
	}
	req := c.request(method, c.BaseURL+path, r, contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.send(req)
}

// Open performs a GET on an absolute URL, such as a link from the outbox.
func (c *TwinClient) Open(rawURL string) *Response {
	c.t.Helper()
	return c.send(c.request(http.MethodGet, rawURL, nil, ""))
}

func (c *TwinClient) request(method, target string, body io.Reader, contentType string) *http.Request {
	c.t.Helper()
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		c.t.Fatalf("new request %s %s: %v", method, target, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func (c *TwinClient) send(req *http.Request) *Response {
	c.t.Helper()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read %s %s: %v", req.Method, req.URL.Path, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header, t: c.t}
}

// AdminClient provides convenience methods for the /admin/* control plane.
type AdminClient struct {
	*TwinClient
}

// NewAdminClient creates an admin client from a twin client.
func NewAdminClient(tc *TwinClient) *AdminClient {
	return &AdminClient{tc}
}

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

// GetState calls GET /admin/state.
func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState calls POST /admin/state with the given state data.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// SeededUser is the part of a POST /admin/users response tests care about.
type SeededUser struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	EmailAddresses []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PhoneNumbers []struct {
		ID          string `json:"id"`
		PhoneNumber string `json:"phone_number"`
	} `json:"phone_numbers"`
}

// SeedUser calls POST /admin/users and fails the test unless it succeeds.
func (ac *AdminClient) SeedUser(seed any) SeededUser {
	ac.t.Helper()
	resp := ac.Post("/admin/users", seed)
	if resp.StatusCode != http.StatusCreated {
		ac.t.Fatalf("seed user: status %d: %s", resp.StatusCode, string(resp.Body))
	}
	var u SeededUser
	resp.JSON(&u)
	return u
}

// Message is a code or link the twin delivered.
type Message struct {
	ID       string `json:"id"`
	Channel  string `json:"channel"`
	To       string `json:"to"`
	Strategy string `json:"strategy"`
	Code     string `json:"code,omitempty"`
	Link     string `json:"link,omitempty"`
}

// Outbox calls GET /admin/outbox, filtered by recipient when to is set.
func (ac *AdminClient) Outbox(to string) []Message {
	ac.t.Helper()
	resp := ac.Get("/admin/outbox?to=" + url.QueryEscape(to)).AssertStatus(http.StatusOK)
	var msgs []Message
	resp.JSON(&msgs)
	return msgs
}

// LatestMessage returns the newest message delivered to to.
func (ac *AdminClient) LatestMessage(to string) Message {
	ac.t.Helper()
	msgs := ac.Outbox(to)
	if len(msgs) == 0 {
		ac.t.Fatalf("no messages delivered to %s", to)
	}
	return msgs[len(msgs)-1]
}

// CreateTicket calls POST /admin/tickets and returns the ticket token.
func (ac *AdminClient) CreateTicket(email string) string {
	ac.t.Helper()
	resp := ac.Post("/admin/tickets", map[string]string{"email_address": email})
	if resp.StatusCode != http.StatusCreated {
		ac.t.Fatalf("create ticket: status %d: %s", resp.StatusCode, string(resp.Body))
	}
	var tkt struct {
		Token string `json:"token"`
	}
	resp.JSON(&tkt)
	return tkt.Token
}

// UpdateConfig calls PATCH /admin/config.
func (ac *AdminClient) UpdateConfig(updates map[string]any) *Response {
	ac.t.Helper()
	return ac.Patch("/admin/config", updates)
}

// InjectFault calls POST /admin/fault/{endpoint}.
func (ac *AdminClient) InjectFault(endpoint string, fault any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/fault/"+strings.TrimPrefix(endpoint, "/"), fault)
}

// RemoveFault calls DELETE /admin/fault/{endpoint}.
func (ac *AdminClient) RemoveFault(endpoint string) *Response {
	ac.t.Helper()
	return ac.Delete("/admin/fault/" + strings.TrimPrefix(endpoint, "/"))
}

// GetRequests calls GET /admin/requests.
func (ac *AdminClient) GetRequests() *Response {
	ac.t.Helper()
	return ac.Get("/admin/requests")
}

// AdvanceTime calls POST /admin/time/advance.
func (ac *AdminClient) AdvanceTime(duration string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/time/advance", map[string]string{"duration": duration})
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}

// Path formats a request path with escaped segments, e.g.
// Path("/v1/client/sign_ins/%s", id).
func Path(format string, ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, args...)
}
