package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

const (
	sessionCookieName   = "__session"
	clientUATCookieName = "__client_uat"
	// DevBrowserCookie carries the client id between calls.
	DevBrowserCookie = "__clerk_db_jwt"
)

// Session lifetimes.
const (
	sessionLifetime   = 7 * 24 * time.Hour
	sessionAbandonTTL = 30 * 24 * time.Hour
	attemptAbandonTTL = 24 * time.Hour
)

// clientFromCookie resolves the caller's client from the dev-browser cookie.
func (h *Handler) clientFromCookie(r *http.Request) (store.Client, bool) {
	c, err := r.Cookie(DevBrowserCookie)
	if err != nil || c.Value == "" {
		return store.Client{}, false
	}
	return h.store.Clients.Get(c.Value)
}

// currentClient returns the caller's client, creating one and setting the
// dev-browser cookie when the caller has none.
func (h *Handler) currentClient(w http.ResponseWriter, r *http.Request) store.Client {
	if client, ok := h.clientFromCookie(r); ok {
		return client
	}
	client := h.createNewClient()
	h.setClientCookies(w, client.ID, "")
	return client
}

func (h *Handler) createNewClient() store.Client {
	now := millis(h.store.Clock.Now())
	client := store.Client{
		ID:        h.store.Clients.NextID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.store.Clients.Set(client.ID, client)
	h.logger.Debug("client created", "client_id", client.ID)
	return client
}

func (h *Handler) touchClient(clientID string, fn func(c *store.Client)) {
	now := millis(h.store.Clock.Now())
	h.store.Clients.Update(clientID, func(c *store.Client) {
		fn(c)
		c.UpdatedAt = now
	})
}

// setClientCookies writes the __clerk_db_jwt, __session and __client_uat cookies.
func (h *Handler) setClientCookies(w http.ResponseWriter, clientID, jwt string) {
	now := h.store.Clock.Now()
	expires := now.Add(sessionLifetime)

	http.SetCookie(w, &http.Cookie{
		Name:     DevBrowserCookie,
		Value:    clientID,
		Path:     "/",
		Expires:  expires,
		SameSite: http.SameSiteLaxMode,
	})
	uat := "0"
	if jwt != "" {
		uat = strconv.FormatInt(now.Unix(), 10)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     clientUATCookieName,
		Value:    uat,
		Path:     "/",
		Expires:  expires,
		SameSite: http.SameSiteLaxMode,
	})
	if jwt != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    jwt,
			Path:     "/",
			Expires:  expires,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// clearSessionCookies removes all twin cookies.
func clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{sessionCookieName, clientUATCookieName, DevBrowserCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}

// GetClient handles GET /v1/client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client := h.currentClient(w, r)
	h.expireSessions(client.ID)
	twincore.JSON(w, http.StatusOK, envelope{Response: h.renderClientByID(client.ID)})
}

// CreateClient handles POST /v1/client. It always starts a fresh client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	client := h.createNewClient()
	h.setClientCookies(w, client.ID, "")
	h.respond(w, http.StatusOK, h.renderClient(client), client.ID)
}

// DestroyClient handles DELETE /v1/client. It ends all of the client's
// sessions and forgets the client.
func (h *Handler) DestroyClient(w http.ResponseWriter, r *http.Request) {
	client, ok := h.clientFromCookie(r)
	if !ok {
		h.fail(w, http.StatusNotFound, "", notFound("client"))
		return
	}

	now := millis(h.store.Clock.Now())
	for _, sess := range h.store.ClientSessions(client.ID) {
		h.store.Sessions.Update(sess.ID, func(s *store.Session) {
			if s.Status == store.SessionActive {
				s.Status = store.SessionEnded
			}
			s.UpdatedAt = now
		})
	}

	out := h.renderClient(client)
	out.Sessions = []sessionJSON{}
	out.SignIn, out.SignUp = nil, nil
	out.LastActiveSessionID = ""
	h.store.Clients.Delete(client.ID)

	clearSessionCookies(w)
	h.logger.Debug("client destroyed", "client_id", client.ID)
	h.respond(w, http.StatusOK, out, "")
}

// createSession starts an active session for user on client, makes it the
// client's active session and mints its first token.
func (h *Handler) createSession(w http.ResponseWriter, clientID, userID string) (store.Session, error) {
	now := h.store.Clock.Now()
	sess := store.Session{
		ID:           h.store.Sessions.NextID(),
		ClientID:     clientID,
		UserID:       userID,
		Status:       store.SessionActive,
		LastActiveAt: millis(now),
		ExpireAt:     millis(now.Add(sessionLifetime)),
		AbandonAt:    millis(now.Add(sessionAbandonTTL)),
		CreatedAt:    millis(now),
		UpdatedAt:    millis(now),
	}
	token, err := h.jwtMgr.GenerateToken(userID, sess.ID, now, nil)
	if err != nil {
		return store.Session{}, err
	}
	sess.LastActiveToken = token
	h.store.Sessions.Set(sess.ID, sess)
	h.store.Users.Update(userID, func(u *store.User) { u.LastSignInAt = millis(now) })
	h.touchClient(clientID, func(c *store.Client) { c.LastActiveSessionID = sess.ID })
	if w != nil {
		h.setClientCookies(w, clientID, token)
	}
	h.logger.Info("session created", "session_id", sess.ID, "user_id", userID, "client_id", clientID)
	return sess, nil
}

// expireSessions marks the client's sessions whose lifetime has passed.
func (h *Handler) expireSessions(clientID string) {
	now := millis(h.store.Clock.Now())
	for _, sess := range h.store.ClientSessions(clientID) {
		if sess.Status != store.SessionActive || now <= sess.ExpireAt {
			continue
		}
		h.store.Sessions.Update(sess.ID, func(s *store.Session) {
			s.Status = store.SessionExpired
			s.UpdatedAt = now
		})
		h.touchClient(clientID, func(c *store.Client) {
			if c.LastActiveSessionID == sess.ID {
				c.LastActiveSessionID = ""
			}
		})
	}
}

// activeSessionFor returns the active session of user on client, if any.
func (h *Handler) activeSessionFor(clientID, userID string) (store.Session, bool) {
	h.expireSessions(clientID)
	sess, ok := h.store.Sessions.Find(func(s store.Session) bool {
		return s.ClientID == clientID && s.UserID == userID && s.Status == store.SessionActive
	})
	return sess, ok
}

// clientSession loads the session named in the URL, checking that it belongs
// to the caller's client.
func (h *Handler) clientSession(w http.ResponseWriter, r *http.Request) (store.Client, store.Session, bool) {
	client := h.currentClient(w, r)
	h.expireSessions(client.ID)
	sess, ok := h.store.Sessions.Get(chi.URLParam(r, "id"))
	if !ok || sess.ClientID != client.ID {
		h.fail(w, http.StatusNotFound, client.ID, notFound("session"))
		return client, store.Session{}, false
	}
	return client, sess, true
}

func (h *Handler) requireActive(w http.ResponseWriter, client store.Client, sess store.Session) bool {
	if sess.Status == store.SessionActive {
		return true
	}
	h.fail(w, http.StatusUnauthorized, client.ID, apiError("authentication_invalid",
		"Session is "+sess.Status, "The session is no longer active. Sign in again."))
	return false
}

// GetSession handles GET /v1/client/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	client, sess, ok := h.clientSession(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, h.renderSession(sess), client.ID)
}

// TouchSession handles POST /v1/client/sessions/{id}/touch. The session
// becomes the client's active one.
func (h *Handler) TouchSession(w http.ResponseWriter, r *http.Request) {
	client, sess, ok := h.clientSession(w, r)
	if !ok || !h.requireActive(w, client, sess) {
		return
	}

	now := h.store.Clock.Now()
	token, err := h.jwtMgr.GenerateToken(sess.UserID, sess.ID, now, nil)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to mint session token.", err.Error()))
		return
	}
	sess, _ = h.store.Sessions.Update(sess.ID, func(s *store.Session) {
		s.LastActiveAt = millis(now)
		s.LastActiveToken = token
		s.UpdatedAt = millis(now)
	})
	h.touchClient(client.ID, func(c *store.Client) { c.LastActiveSessionID = sess.ID })
	h.setClientCookies(w, client.ID, token)
	h.respond(w, http.StatusOK, h.renderSession(sess), client.ID)
}

// EndSession handles POST /v1/client/sessions/{id}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	client, sess, ok := h.clientSession(w, r)
	if !ok {
		return
	}

	now := millis(h.store.Clock.Now())
	sess, _ = h.store.Sessions.Update(sess.ID, func(s *store.Session) {
		if s.Status == store.SessionActive {
			s.Status = store.SessionEnded
		}
		s.UpdatedAt = now
	})
	h.touchClient(client.ID, func(c *store.Client) {
		if c.LastActiveSessionID == sess.ID {
			c.LastActiveSessionID = ""
		}
	})
	h.logger.Info("session ended", "session_id", sess.ID, "client_id", client.ID)
	h.respond(w, http.StatusOK, h.renderSession(sess), client.ID)
}

// GetSessionToken handles POST /v1/client/sessions/{id}/tokens. The token is
// returned bare, without the response envelope.
func (h *Handler) GetSessionToken(w http.ResponseWriter, r *http.Request) {
	client, sess, ok := h.clientSession(w, r)
	if !ok || !h.requireActive(w, client, sess) {
		return
	}

	now := h.store.Clock.Now()
	token, err := h.jwtMgr.GenerateToken(sess.UserID, sess.ID, now, nil)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to mint session token.", err.Error()))
		return
	}
	h.store.Sessions.Update(sess.ID, func(s *store.Session) {
		s.LastActiveToken = token
		s.UpdatedAt = millis(now)
	})
	h.setClientCookies(w, client.ID, token)
	twincore.JSON(w, http.StatusOK, tokenJSON{Object: store.ObjectToken, JWT: token})
}

type ctxKey int

const (
	ctxClientID ctxKey = iota
	ctxUserID
)

// requireSession rejects /v1/me calls from clients without an active session.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := h.clientFromCookie(r)
		if ok {
			h.expireSessions(client.ID)
			client, _ = h.store.Clients.Get(client.ID)
		}
		var sess store.Session
		if ok && client.LastActiveSessionID != "" {
			sess, ok = h.store.Sessions.Get(client.LastActiveSessionID)
		} else {
			ok = false
		}
		if !ok || sess.Status != store.SessionActive {
			h.fail(w, http.StatusUnauthorized, "", apiError("authentication_invalid",
				"Unauthenticated", "You need to be signed in to perform this action."))
			return
		}
		ctx := context.WithValue(r.Context(), ctxClientID, client.ID)
		ctx = context.WithValue(ctx, ctxUserID, sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func meFromContext(ctx context.Context) (clientID, userID string) {
	clientID, _ = ctx.Value(ctxClientID).(string)
	userID, _ = ctx.Value(ctxUserID).(string)
	return clientID, userID
}
