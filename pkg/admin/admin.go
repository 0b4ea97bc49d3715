// Package admin provides the /admin/* control plane of the Frontend API twin:
// state management, user seeding, the delivery outbox, fault injection and
// inspection.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/clerkflow/pkg/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// StateStore is the twin state behind /admin/state and /admin/reset.
type StateStore interface {
	// Snapshot returns the full state as a JSON-serializable value.
	Snapshot() any
	// LoadState replaces the full state from a JSON body.
	LoadState(data []byte) error
	// Reset clears all state and reloads seed data.
	Reset()
}

// UserSeeder creates users directly, bypassing the sign-up flow.
type UserSeeder interface {
	SeedUser(data []byte) (any, error)
}

// Outbox exposes the codes and links the twin would have emailed or texted.
type Outbox interface {
	// Outbox returns delivered messages, newest last, optionally filtered
	// by recipient.
	Outbox(to string) any
}

// ConfigProvider exposes runtime-tunable twin settings.
type ConfigProvider interface {
	GetConfig() map[string]any
	UpdateConfig(updates map[string]any) error
}

// Option enables an optional part of the control plane.
type Option func(*Handler)

// WithSeeder enables POST /admin/users.
func WithSeeder(s UserSeeder) Option { return func(h *Handler) { h.seeder = s } }

// WithOutbox enables GET /admin/outbox.
func WithOutbox(o Outbox) Option { return func(h *Handler) { h.outbox = o } }

// WithConfig enables GET and PATCH /admin/config.
func WithConfig(c ConfigProvider) Option { return func(h *Handler) { h.config = c } }

// WithClock enables /admin/time/advance and reports simulated time.
func WithClock(c *store.Clock) Option { return func(h *Handler) { h.clock = c } }

// Handler serves the admin endpoints.
type Handler struct {
	state  StateStore
	mw     *twincore.Middleware
	seeder UserSeeder
	outbox Outbox
	config ConfigProvider
	clock  *store.Clock
}

// NewHandler returns a control plane over state and the twin middleware.
func NewHandler(state StateStore, mw *twincore.Middleware, opts ...Option) *Handler {
	h := &Handler{state: state, mw: mw}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the admin endpoints under /admin.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Post("/reset", h.handleReset)

		r.Get("/state", h.handleGetState)
		r.Post("/state", h.handleLoadState)
		r.Post("/users", h.handleSeedUser)
		r.Get("/outbox", h.handleOutbox)

		r.Get("/config", h.handleGetConfig)
		r.Patch("/config", h.handleUpdateConfig)

		r.Post("/fault/*", h.handleInjectFault)
		r.Delete("/fault/*", h.handleRemoveFault)
		r.Get("/faults", h.handleListFaults)
		r.Delete("/faults", h.handleClearFaults)

		r.Get("/requests", h.handleGetRequests)
		r.Delete("/requests", h.handleClearRequests)

		r.Get("/time", h.handleGetTime)
		r.Post("/time/advance", h.handleTimeAdvance)
	})
}

func status(w http.ResponseWriter, code int, s string, extra ...any) {
	body := map[string]any{"status": s}
	for i := 0; i+1 < len(extra); i += 2 {
		body[extra[i].(string)] = extra[i+1]
	}
	twincore.JSON(w, code, body)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status(w, http.StatusOK, "ok")
}

// handleReset returns the twin to its startup state: data, faults, request
// log and simulated clock.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	h.mw.Faults.Reset()
	h.mw.ReqLog.Clear()
	if h.clock != nil {
		h.clock.Reset()
	}
	status(w, http.StatusOK, "reset")
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		err = h.state.LoadState(body)
	}
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	status(w, http.StatusOK, "loaded")
}

func (h *Handler) handleSeedUser(w http.ResponseWriter, r *http.Request) {
	if h.seeder == nil {
		twincore.Error(w, http.StatusNotImplemented, "user seeding not supported")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	user, err := h.seeder.SeedUser(body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to seed user: "+err.Error())
		return
	}
	twincore.JSON(w, http.StatusCreated, user)
}

func (h *Handler) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		twincore.JSON(w, http.StatusOK, []any{})
		return
	}
	twincore.JSON(w, http.StatusOK, h.outbox.Outbox(r.URL.Query().Get("to")))
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		twincore.Error(w, http.StatusNotImplemented, "runtime config not supported")
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		twincore.Error(w, http.StatusNotImplemented, "runtime config not supported")
		return
	}
	var updates map[string]any
	if err := decode(r, &updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	if err := h.config.UpdateConfig(updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

// faultPattern maps /admin/fault/v1/client/sign_ins/* to /v1/client/sign_ins/*.
func faultPattern(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

func (h *Handler) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	pattern := faultPattern(r)
	var fault twincore.FaultConfig
	if err := decode(r, &fault); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid fault config: "+err.Error())
		return
	}
	if fault.Rate < 0 || fault.Rate > 1 {
		twincore.Error(w, http.StatusBadRequest, "rate must be between 0.0 and 1.0")
		return
	}
	if fault.StatusCode != 0 && (fault.StatusCode < 100 || fault.StatusCode > 599) {
		twincore.Error(w, http.StatusBadRequest, "status_code must be a valid HTTP status")
		return
	}
	h.mw.Faults.Set(pattern, fault)
	status(w, http.StatusOK, "injected", "endpoint", pattern, "fault", fault)
}

func (h *Handler) handleRemoveFault(w http.ResponseWriter, r *http.Request) {
	pattern := faultPattern(r)
	if !h.mw.Faults.Remove(pattern) {
		twincore.Error(w, http.StatusNotFound, "no fault registered for "+pattern)
		return
	}
	status(w, http.StatusOK, "removed", "endpoint", pattern)
}

func (h *Handler) handleListFaults(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.mw.Faults.All())
}

func (h *Handler) handleClearFaults(w http.ResponseWriter, r *http.Request) {
	h.mw.Faults.Reset()
	status(w, http.StatusOK, "cleared")
}

// handleGetRequests lists logged requests, optionally narrowed by ?method=
// and a ?path= prefix.
func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	method := strings.ToUpper(r.URL.Query().Get("method"))
	prefix := r.URL.Query().Get("path")

	out := []twincore.RequestLogEntry{}
	for _, e := range h.mw.ReqLog.Entries() {
		if method != "" && e.Method != method {
			continue
		}
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		out = append(out, e)
	}
	twincore.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleClearRequests(w http.ResponseWriter, r *http.Request) {
	h.mw.ReqLog.Clear()
	status(w, http.StatusOK, "cleared")
}

func (h *Handler) handleGetTime(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"real": time.Now().Format(time.RFC3339)}
	if h.clock != nil {
		body["simulated"] = h.clock.Now().Format(time.RFC3339)
		body["offset"] = h.clock.Offset().String()
	}
	twincore.JSON(w, http.StatusOK, body)
}

// handleTimeAdvance moves the simulated clock forward so codes, links and
// sessions can be expired without waiting.
func (h *Handler) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		twincore.Error(w, http.StatusBadRequest, "simulated clock not configured")
		return
	}
	var req struct {
		Duration string `json:"duration"` // e.g. "10m"
	}
	if err := decode(r, &req); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err == nil && d < 0 {
		err = errors.New("time only moves forward")
	}
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}

	h.clock.Advance(d)
	status(w, http.StatusOK, "advanced",
		"duration", d.String(),
		"offset", h.clock.Offset().String(),
		"simulated", h.clock.Now().Format(time.RFC3339),
	)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
