package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionExpired   SessionStatus = "expired"
	SessionRemoved   SessionStatus = "removed"
	SessionReplaced  SessionStatus = "replaced"
	SessionAbandoned SessionStatus = "abandoned"
)

// PublicUserData is the non-sensitive profile data exposed on a session.
type PublicUserData struct {
	FirstName  string
	LastName   string
	ImageURL   string
	Identifier string
	UserID     string
}

// Session is an authenticated session on the client.
type Session struct {
	baseResource
	Status          SessionStatus
	LastActiveAt    time.Time
	ExpireAt        time.Time
	AbandonAt       time.Time
	LastActiveToken *Token
	PublicUserData  PublicUserData
}

func newSession(core *Core, id string) *Session {
	s := &Session{}
	s.core = core
	s.pathRoot = "/client/sessions"
	s.id = id
	return s
}

type sessionJSON struct {
	Object          string     `json:"object"`
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	LastActiveAt    int64      `json:"last_active_at"`
	ExpireAt        int64      `json:"expire_at"`
	AbandonAt       int64      `json:"abandon_at"`
	LastActiveToken *tokenJSON `json:"last_active_token"`
	PublicUserData  *struct {
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
		ImageURL   string `json:"image_url"`
		Identifier string `json:"identifier"`
	} `json:"public_user_data"`
	User *struct {
		ID string `json:"id"`
	} `json:"user"`
}

func (s *Session) fromJSON(data json.RawMessage) error {
	var in sessionJSON
	if err := decodeJSON(data, &in); err != nil {
		return fmt.Errorf("decoding session: %w", err)
	}
	s.id = in.ID
	s.Status = SessionStatus(in.Status)
	s.LastActiveAt = fromUnixMilli(in.LastActiveAt)
	s.ExpireAt = fromUnixMilli(in.ExpireAt)
	s.AbandonAt = fromUnixMilli(in.AbandonAt)
	s.LastActiveToken = nil
	if in.LastActiveToken != nil && in.LastActiveToken.JWT != "" {
		s.LastActiveToken = &Token{JWT: in.LastActiveToken.JWT}
	}
	s.PublicUserData = PublicUserData{}
	if in.PublicUserData != nil {
		s.PublicUserData = PublicUserData{
			FirstName:  in.PublicUserData.FirstName,
			LastName:   in.PublicUserData.LastName,
			ImageURL:   in.PublicUserData.ImageURL,
			Identifier: in.PublicUserData.Identifier,
		}
	}
	if in.User != nil {
		s.PublicUserData.UserID = in.User.ID
	}
	return nil
}

// Touch marks the session as the client's active one on the server.
func (s *Session) Touch(ctx context.Context) (*Session, error) {
	return s, s.mutate(ctx, s, mutation{action: "touch"})
}

// End ends the session.
func (s *Session) End(ctx context.Context) (*Session, error) {
	return s, s.mutate(ctx, s, mutation{action: "end"})
}

// Reload refreshes the session from the server.
func (s *Session) Reload(ctx context.Context) (*Session, error) {
	return s, s.fetch(ctx, s, fetchOptions{})
}

// GetToken mints a fresh session token.
func (s *Session) GetToken(ctx context.Context) (*Token, error) {
	if s.IsNew() {
		return nil, ErrResourceNotCreated
	}
	payload, err := s.core.request(ctx, fapiInit(http.MethodPost, s.path("tokens"), nil), fetchOptions{})
	if err != nil {
		return nil, err
	}
	data := payload.Resource()
	if data == nil {
		return nil, errors.New("resources: token response was empty")
	}
	var in tokenJSON
	if err := decodeJSON(data, &in); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	tok := &Token{JWT: in.JWT}
	s.LastActiveToken = tok
	return tok, nil
}

// Token is a session JWT as minted by the Frontend API.
type Token struct {
	JWT string
}

type tokenJSON struct {
	Object string `json:"object"`
	JWT    string `json:"jwt"`
}

// Claims decodes the token's claims without verifying its signature. The
// token was received directly from the Frontend API; verification is the
// backend's job.
func (t *Token) Claims() (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.JWT, claims); err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}
	return claims, nil
}

// ExpiresAt returns the token's exp claim.
func (t *Token) ExpiresAt() (time.Time, error) {
	claims, err := t.Claims()
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("resources: session token has no exp claim")
	}
	return exp.Time, nil
}

// SessionID returns the sid claim.
func (t *Token) SessionID() string {
	claims, err := t.Claims()
	if err != nil {
		return ""
	}
	sid, _ := claims["sid"].(string)
	return sid
}
