// Package resources models the Frontend API objects a browser-side client
// works with: the client, its sessions, sign-in and sign-up attempts and the
// identifiers being verified. Every resource is bound to a Core, which owns the
// transport and the current client state.
package resources

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
	"github.com/wondertwin-ai/clerkflow/pkg/poller"
)

// UnauthenticatedHandler is called whenever the server answers 401.
type UnauthenticatedHandler func(ctx context.Context, core *Core) error

// Core is the shared context resources operate in. Client state delivered
// alongside any response is applied here.
type Core struct {
	fapi   fapi.Requester
	logger *slog.Logger
	now    func() time.Time

	pollInterval    time.Duration
	maxPollDuration time.Duration

	onUnauthenticated UnauthenticatedHandler

	mu        sync.RWMutex
	client    *Client
	listeners map[int]func(*Client)
	nextID    int
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoreOption {
	return func(c *Core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPollInterval sets the delay between magic link status checks.
func WithPollInterval(d time.Duration) CoreOption {
	return func(c *Core) { c.pollInterval = d }
}

// WithMaxPollDuration bounds how long a magic link flow polls. Zero, the
// default, polls until the verification leaves the unverified state.
func WithMaxPollDuration(d time.Duration) CoreOption {
	return func(c *Core) { c.maxPollDuration = d }
}

// WithUnauthenticatedHandler replaces the default 401 handling, which drops
// every session from the local client.
func WithUnauthenticatedHandler(h UnauthenticatedHandler) CoreOption {
	return func(c *Core) {
		if h != nil {
			c.onUnauthenticated = h
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) CoreOption {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCore creates a Core on top of a Frontend API transport.
func NewCore(requester fapi.Requester, opts ...CoreOption) *Core {
	c := &Core{
		fapi:              requester,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:               time.Now,
		pollInterval:      poller.DefaultInterval,
		onUnauthenticated: clearSessions,
		listeners:         make(map[int]func(*Client)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = newClient(c)
	return c
}

// Logger returns the Core's logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// Now returns the current time according to the Core's clock.
func (c *Core) Now() time.Time { return c.now() }

// Client returns the current client. It is never nil.
func (c *Core) Client() *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// SignIn returns the client's in-progress sign-in, creating an empty one if
// there is none.
func (c *Core) SignIn() *SignIn {
	cl := c.Client()
	if cl.SignIn == nil {
		cl.SignIn = NewSignIn(c)
	}
	return cl.SignIn
}

// SignUp returns the client's in-progress sign-up, creating an empty one if
// there is none.
func (c *Core) SignUp() *SignUp {
	cl := c.Client()
	if cl.SignUp == nil {
		cl.SignUp = NewSignUp(c)
	}
	return cl.SignUp
}

// ActiveSession returns the client's last active session, or nil.
func (c *Core) ActiveSession() *Session {
	cl := c.Client()
	if cl.LastActiveSessionID == "" {
		return nil
	}
	return cl.Session(cl.LastActiveSessionID)
}

// OnClientChange registers fn to be called after every client update. The
// returned function removes the listener.
func (c *Core) OnClientChange(fn func(*Client)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// UpdateClient makes cl the current client and notifies listeners.
func (c *Core) UpdateClient(cl *Client) {
	c.mu.Lock()
	c.client = cl
	fns := make([]func(*Client), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(cl)
	}
}

// LoadClient fetches the current client from the server.
func (c *Core) LoadClient(ctx context.Context) (*Client, error) {
	cl := c.Client()
	if _, err := cl.Reload(ctx); err != nil {
		return nil, fmt.Errorf("loading client: %w", err)
	}
	return cl, nil
}

// SetSession makes the session with the given id the active one. beforeEmit,
// if set, runs after the session is active but before listeners are notified;
// this is where callers navigate away. An empty id clears the active session.
func (c *Core) SetSession(ctx context.Context, sessionID string, beforeEmit func(context.Context) error) error {
	cl := c.Client()
	if sessionID != "" {
		sess := cl.Session(sessionID)
		if sess == nil {
			sess = newSession(c, sessionID)
		}
		if _, err := sess.Touch(ctx); err != nil {
			return fmt.Errorf("activating session %s: %w", sessionID, err)
		}
		cl = c.Client()
	}
	cl.LastActiveSessionID = sessionID
	c.logger.Info("session set", "session_id", sessionID)

	if beforeEmit != nil {
		if err := beforeEmit(ctx); err != nil {
			return err
		}
	}
	c.UpdateClient(cl)
	return nil
}

// SignOut ends every session on this client and starts over with an empty one.
func (c *Core) SignOut(ctx context.Context) error {
	if err := c.Client().Destroy(ctx); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	c.UpdateClient(newClient(c))
	return nil
}

// HandleUnauthenticated runs the configured 401 handler.
func (c *Core) HandleUnauthenticated(ctx context.Context) error {
	c.logger.Warn("frontend API reported unauthenticated")
	return c.onUnauthenticated(ctx, c)
}

func clearSessions(_ context.Context, c *Core) error {
	cl := c.Client()
	cl.Sessions = nil
	cl.LastActiveSessionID = ""
	c.UpdateClient(cl)
	return nil
}

type fetchOptions struct {
	forceUpdateClient bool
}

// request sends init and classifies the response. Piggybacked client state is
// applied before classification so that failed calls still update it.
func (c *Core) request(ctx context.Context, init fapi.RequestInit, opts fetchOptions) (*fapi.ResponseJSON, error) {
	resp, err := c.fapi.Request(ctx, init)
	if err != nil {
		return nil, err
	}

	if init.Method != http.MethodGet || opts.forceUpdateClient {
		if err := c.applyPiggyback(resp.Payload); err != nil {
			return nil, err
		}
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return resp.Payload, nil
	case resp.Status == http.StatusUnauthorized:
		if err := c.HandleUnauthenticated(ctx); err != nil {
			c.logger.Error("unauthenticated handler failed", "error", err)
		}
		return nil, newAPIResponseError(resp)
	case resp.Status >= 400:
		return nil, newAPIResponseError(resp)
	default:
		return nil, nil
	}
}

func (c *Core) applyPiggyback(payload *fapi.ResponseJSON) error {
	raw := payload.PiggybackedClient()
	if raw == nil {
		return nil
	}
	cl := c.Client()
	if err := cl.fromJSON(raw); err != nil {
		return fmt.Errorf("applying client state: %w", err)
	}
	c.logger.Debug("client state updated", "client_id", cl.ID(), "sessions", len(cl.Sessions))
	c.UpdateClient(cl)
	return nil
}

func (c *Core) newPoller() *poller.Poller {
	return poller.New(
		poller.WithInterval(c.pollInterval),
		poller.WithMaxDuration(c.maxPollDuration),
	)
}
