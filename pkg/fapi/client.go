// Package fapi is the transport layer for the Frontend API. It issues requests
// and hands back the decoded JSON envelope; it does not interpret status codes,
// that is left to the resource layer.
package fapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAPIVersion is the path prefix every request is sent under.
const DefaultAPIVersion = "/v1"

// RequestIDHeader carries a per-request id so twin request logs can be correlated.
const RequestIDHeader = "X-Request-Id"

// Requester is the capability the resource layer depends on.
type Requester interface {
	Request(ctx context.Context, init RequestInit) (*Response, error)
}

// RequestInit describes a single Frontend API call.
type RequestInit struct {
	Method string
	Path   string // relative to the API version, segments already escaped
	Query  url.Values
	Body   any
}

// Response is the outcome of a round trip that reached the server.
// Payload is nil when the body was empty or not JSON.
type Response struct {
	Status     int
	StatusText string
	Payload    *ResponseJSON
}

// HTTPClient talks to a Frontend API over HTTP. The cookie jar keeps the
// client cookie between calls the way a browser would.
type HTTPClient struct {
	baseURL    *url.URL
	apiVersion string
	http       *http.Client
	logger     *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client. Redirect following is
// disabled on it so that 3xx responses reach the resource layer.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAPIVersion overrides the "/v1" path prefix.
func WithAPIVersion(v string) Option {
	return func(c *HTTPClient) {
		c.apiVersion = "/" + strings.Trim(v, "/")
	}
}

// New creates an HTTPClient for the given Frontend API host. A host without a
// scheme is assumed to be https.
func New(frontendAPI string, opts ...Option) (*HTTPClient, error) {
	if frontendAPI == "" {
		return nil, fmt.Errorf("fapi: frontend API url is required")
	}
	if !strings.Contains(frontendAPI, "://") {
		frontendAPI = "https://" + frontendAPI
	}
	u, err := url.Parse(strings.TrimRight(frontendAPI, "/"))
	if err != nil {
		return nil, fmt.Errorf("fapi: parsing frontend API url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fapi: creating cookie jar: %w", err)
	}

	c := &HTTPClient{
		baseURL:    u,
		apiVersion: DefaultAPIVersion,
		http:       &http.Client{Timeout: 30 * time.Second, Jar: jar},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		c.http.Jar = jar
	}
	c.http.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c, nil
}

// BaseURL returns the Frontend API root the client was built with.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL.String()
}

// Request performs the call described by init.
func (c *HTTPClient) Request(ctx context.Context, init RequestInit) (*Response, error) {
	method := init.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(init.Path, init.Query)
	if err != nil {
		return nil, fmt.Errorf("fapi: %s %s: %w", method, init.Path, err)
	}

	var bodyReader io.Reader
	if init.Body != nil {
		data, err := json.Marshal(init.Body)
		if err != nil {
			return nil, fmt.Errorf("fapi: encoding %s %s body: %w", method, init.Path, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("fapi: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fapi: %s %s: %w", method, init.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fapi: reading %s %s response: %w", method, init.Path, err)
	}

	c.logger.Debug("fapi request",
		"method", method,
		"path", init.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"request_id", reqID,
	)

	out := &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
	}
	if isJSON(resp.Header.Get("Content-Type")) && len(bytes.TrimSpace(data)) > 0 {
		payload, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("fapi: decoding %s %s response: %w", method, init.Path, err)
		}
		out.Payload = payload
	}
	return out, nil
}

// resolve joins the already escaped path onto the base URL. RawPath keeps
// the caller's escaping so ids holding "/" or "%" reach the server as sent.
func (c *HTTPClient) resolve(path string, query url.Values) (string, error) {
	u := *c.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/") + c.apiVersion + "/" + strings.TrimLeft(path, "/")
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	u.Path, u.RawPath = unescaped, raw
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}
