package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

const clientPath = "/client"

// Client is the browser-side client: it owns the sessions and the sign-in and
// sign-up attempts in progress.
type Client struct {
	baseResource
	Sessions            []*Session
	SignIn              *SignIn
	SignUp              *SignUp
	LastActiveSessionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func newClient(core *Core) *Client {
	c := &Client{}
	c.core = core
	c.pathRoot = clientPath
	return c
}

// Session returns the session with the given id, or nil.
func (c *Client) Session(id string) *Session {
	for _, s := range c.Sessions {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

// ActiveSessions returns the sessions whose status is active.
func (c *Client) ActiveSessions() []*Session {
	var out []*Session
	for _, s := range c.Sessions {
		if s.Status == SessionActive {
			out = append(out, s)
		}
	}
	return out
}

type clientJSON struct {
	Object              string            `json:"object"`
	ID                  string            `json:"id"`
	Sessions            []json.RawMessage `json:"sessions"`
	SignIn              json.RawMessage   `json:"sign_in"`
	SignUp              json.RawMessage   `json:"sign_up"`
	LastActiveSessionID string            `json:"last_active_session_id"`
	CreatedAt           int64             `json:"created_at"`
	UpdatedAt           int64             `json:"updated_at"`
}

// fromJSON replaces the client state. The SignIn and SignUp pointers are kept
// and rehydrated when the server still reports an attempt, so references held
// by callers stay current.
func (c *Client) fromJSON(data json.RawMessage) error {
	var in clientJSON
	if err := decodeJSON(data, &in); err != nil {
		return fmt.Errorf("decoding client: %w", err)
	}

	sessions := make([]*Session, 0, len(in.Sessions))
	for _, raw := range in.Sessions {
		s := newSession(c.core, "")
		if err := s.fromJSON(raw); err != nil {
			return err
		}
		sessions = append(sessions, s)
	}

	if isNullJSON(in.SignIn) {
		c.SignIn = nil
	} else {
		if c.SignIn == nil {
			c.SignIn = NewSignIn(c.core)
		}
		if err := c.SignIn.fromJSON(in.SignIn); err != nil {
			return err
		}
	}

	if isNullJSON(in.SignUp) {
		c.SignUp = nil
	} else {
		if c.SignUp == nil {
			c.SignUp = NewSignUp(c.core)
		}
		if err := c.SignUp.fromJSON(in.SignUp); err != nil {
			return err
		}
	}

	c.id = in.ID
	c.Sessions = sessions
	c.LastActiveSessionID = in.LastActiveSessionID
	c.CreatedAt = fromUnixMilli(in.CreatedAt)
	c.UpdatedAt = fromUnixMilli(in.UpdatedAt)
	return nil
}

// Reload fetches the client and publishes it to the Core.
func (c *Client) Reload(ctx context.Context) (*Client, error) {
	payload, err := c.core.request(ctx, fapiInit(http.MethodGet, clientPath, nil), fetchOptions{})
	if err != nil {
		return nil, err
	}
	if err := rehydrate(c, payload); err != nil {
		return nil, err
	}
	c.core.UpdateClient(c)
	return c, nil
}

// Create starts a new client on the server.
func (c *Client) Create(ctx context.Context) (*Client, error) {
	if err := c.mutate(ctx, c, mutation{path: clientPath}); err != nil {
		return nil, err
	}
	c.core.UpdateClient(c)
	return c, nil
}

// Destroy removes the client and all of its sessions on the server.
func (c *Client) Destroy(ctx context.Context) error {
	return c.mutate(ctx, c, mutation{method: http.MethodDelete, path: clientPath, discard: true})
}

func fapiInit(method, path string, body any) fapi.RequestInit {
	return fapi.RequestInit{Method: method, Path: path, Body: body}
}

func isNullJSON(raw json.RawMessage) bool {
	s := string(raw)
	return len(raw) == 0 || s == "null"
}
