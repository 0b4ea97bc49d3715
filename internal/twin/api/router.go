// Package api implements the Frontend API twin: the endpoints a browser-side
// client calls to sign in, sign up, verify identifiers and manage sessions.
// Clients are identified by the dev-browser cookie, the way a development
// instance does it.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// Handler holds all API handler state.
type Handler struct {
	store  *store.MemoryStore
	mw     *twincore.Middleware
	jwtMgr *JWTManager
	logger *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// NewHandler creates a new API handler with DefaultSettings.
func NewHandler(s *store.MemoryStore, mw *twincore.Middleware, jwtMgr *JWTManager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		store:    s,
		mw:       mw,
		jwtMgr:   jwtMgr,
		logger:   logger,
		settings: DefaultSettings(),
	}
}

// Routes mounts the Frontend API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/.well-known/jwks.json", h.GetJWKS)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.mw.FaultInjection)

		r.Get("/environment", h.GetEnvironment)

		r.Get("/client", h.GetClient)
		r.Post("/client", h.CreateClient)
		r.Delete("/client", h.DestroyClient)

		r.Post("/client/sign_ins", h.CreateSignIn)
		r.Get("/client/sign_ins/{id}", h.GetSignIn)
		r.Post("/client/sign_ins/{id}/prepare_first_factor", h.PrepareFirstFactor)
		r.Post("/client/sign_ins/{id}/attempt_first_factor", h.AttemptFirstFactor)
		r.Post("/client/sign_ins/{id}/prepare_second_factor", h.PrepareSecondFactor)
		r.Post("/client/sign_ins/{id}/attempt_second_factor", h.AttemptSecondFactor)

		r.Post("/client/sign_ups", h.CreateSignUp)
		r.Get("/client/sign_ups/{id}", h.GetSignUp)
		r.Patch("/client/sign_ups/{id}", h.UpdateSignUp)
		r.Post("/client/sign_ups/{id}/prepare_verification", h.PrepareSignUpVerification)
		r.Post("/client/sign_ups/{id}/attempt_verification", h.AttemptSignUpVerification)

		r.Get("/client/sessions/{id}", h.GetSession)
		r.Post("/client/sessions/{id}/touch", h.TouchSession)
		r.Post("/client/sessions/{id}/end", h.EndSession)
		r.Post("/client/sessions/{id}/tokens", h.GetSessionToken)

		r.Route("/me", func(r chi.Router) {
			r.Use(h.requireSession)
			r.Post("/email_addresses", h.CreateEmailAddress)
			r.Get("/email_addresses/{id}", h.GetEmailAddress)
			r.Post("/email_addresses/{id}/prepare_verification", h.PrepareEmailAddressVerification)
			r.Post("/email_addresses/{id}/attempt_verification", h.AttemptEmailAddressVerification)
			r.Delete("/email_addresses/{id}", h.DeleteEmailAddress)

			r.Post("/phone_numbers", h.CreatePhoneNumber)
			r.Get("/phone_numbers/{id}", h.GetPhoneNumber)
			r.Post("/phone_numbers/{id}/prepare_verification", h.PreparePhoneNumberVerification)
			r.Post("/phone_numbers/{id}/attempt_verification", h.AttemptPhoneNumberVerification)
			r.Delete("/phone_numbers/{id}", h.DeletePhoneNumber)
		})

		// Opened by the user from an email, or by the provider redirect.
		r.Get("/verify", h.VerifyLink)
		r.Get("/oauth_callback", h.OAuthCallback)
	})

	// Test-only endpoints, not part of the real Frontend API.
	r.Post("/admin/tickets", h.CreateTicket)
	r.Post("/admin/jwt/generate", h.GenerateJWT)
}

// envelope is the body of every successful Frontend API response.
type envelope struct {
	Response any         `json:"response"`
	Client   *clientJSON `json:"client"`
}

// respond writes resource together with the caller's client state.
func (h *Handler) respond(w http.ResponseWriter, status int, resource any, clientID string) {
	twincore.JSON(w, status, envelope{Response: resource, Client: h.renderClientByID(clientID)})
}

// fail writes an error envelope. When clientID is set the client state is
// piggybacked under meta.client.
func (h *Handler) fail(w http.ResponseWriter, status int, clientID string, errs ...twincore.ErrorBody) {
	body := twincore.ErrorEnvelope{Errors: errs}
	if c := h.renderClientByID(clientID); c != nil {
		body.Meta = &twincore.ErrorEnvelopeMeta{Client: c}
	}
	twincore.JSON(w, status, body)
}

func apiError(code, message, longMessage string) twincore.ErrorBody {
	return twincore.ErrorBody{Code: code, Message: message, LongMessage: longMessage}
}

func paramError(code, param, message, longMessage string) twincore.ErrorBody {
	e := apiError(code, message, longMessage)
	e.Meta = map[string]any{"param_name": param}
	return e
}

func notFound(resource string) twincore.ErrorBody {
	return apiError("resource_not_found", resource+" not found", "The requested "+resource+" could not be found.")
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) badBody(w http.ResponseWriter, clientID string, err error) {
	h.fail(w, http.StatusBadRequest, clientID, apiError("form_param_invalid", "Invalid request body.", err.Error()))
}

// baseURL is the scheme and host the request reached the twin on.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
