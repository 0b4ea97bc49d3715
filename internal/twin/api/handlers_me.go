package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
)

// The /v1/me handlers manage the signed-in user's identifiers. They run
// behind requireSession.

// CreateEmailAddress handles POST /v1/me/email_addresses.
func (h *Handler) CreateEmailAddress(w http.ResponseWriter, r *http.Request) {
	clientID, userID := meFromContext(r.Context())
	var req struct {
		EmailAddress string `json:"email_address"`
	}
	if err := decode(r, &req); err != nil {
		h.badBody(w, clientID, err)
		return
	}
	if err := validation.Validate(req.EmailAddress, validation.Required, is.Email); err != nil {
		h.fail(w, http.StatusUnprocessableEntity, clientID, paramError("form_param_format_invalid", "email_address",
			"Email address is invalid", "The email address must be a valid email address."))
		return
	}
	if _, taken := h.store.FindEmail(req.EmailAddress); taken {
		h.fail(w, http.StatusUnprocessableEntity, clientID, identifierExists("email_address"))
		return
	}

	e := store.EmailAddress{
		ID:           h.store.EmailAddresses.NextID(),
		UserID:       userID,
		EmailAddress: req.EmailAddress,
		CreatedAt:    millis(h.store.Clock.Now()),
	}
	h.store.EmailAddresses.Set(e.ID, e)
	h.respond(w, http.StatusOK, renderEmailAddress(e), clientID)
}

// ownEmail loads the email address named in the URL, checking ownership.
func (h *Handler) ownEmail(w http.ResponseWriter, r *http.Request) (string, store.EmailAddress, bool) {
	clientID, userID := meFromContext(r.Context())
	e, ok := h.store.EmailAddresses.Get(chi.URLParam(r, "id"))
	if !ok || e.UserID != userID {
		h.fail(w, http.StatusNotFound, clientID, notFound("email address"))
		return clientID, store.EmailAddress{}, false
	}
	e.Verification = e.Verification.Clone()
	if h.expireIfDue(e.Verification) {
		h.store.EmailAddresses.Set(e.ID, e)
	}
	return clientID, e, true
}

// GetEmailAddress handles GET /v1/me/email_addresses/{id}.
func (h *Handler) GetEmailAddress(w http.ResponseWriter, r *http.Request) {
	clientID, e, ok := h.ownEmail(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, renderEmailAddress(e), clientID)
}

// PrepareEmailAddressVerification handles
// POST /v1/me/email_addresses/{id}/prepare_verification.
func (h *Handler) PrepareEmailAddressVerification(w http.ResponseWriter, r *http.Request) {
	clientID, e, ok := h.ownEmail(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, clientID, err)
		return
	}

	switch req.Strategy {
	case "email_code", "":
		v, err := h.sendCode("email_code", e.EmailAddress)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, clientID, apiError("internal_error", "Failed to send code.", err.Error()))
			return
		}
		e.Verification = v
	case "email_link":
		if req.RedirectURL == "" {
			h.fail(w, http.StatusUnprocessableEntity, clientID, paramError("form_param_missing", "redirect_url",
				"Redirect URL is missing", "An email_link verification needs a redirect_url."))
			return
		}
		e.Verification = h.sendLink(r, store.LinkEmailAddress, e.ID, clientID, e.EmailAddress, req.RedirectURL)
	default:
		h.fail(w, http.StatusUnprocessableEntity, clientID, invalidStrategy(req.Strategy))
		return
	}
	h.store.EmailAddresses.Set(e.ID, e)
	h.respond(w, http.StatusOK, renderEmailAddress(e), clientID)
}

// AttemptEmailAddressVerification handles
// POST /v1/me/email_addresses/{id}/attempt_verification.
func (h *Handler) AttemptEmailAddressVerification(w http.ResponseWriter, r *http.Request) {
	clientID, e, ok := h.ownEmail(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, clientID, err)
		return
	}
	ce := h.checkCode(e.Verification, "email_code", req.Code)
	if e.Verification != nil {
		h.store.EmailAddresses.Set(e.ID, e)
	}
	if ce != nil {
		h.fail(w, ce.status, clientID, ce.body)
		return
	}
	h.respond(w, http.StatusOK, renderEmailAddress(e), clientID)
}

// DeleteEmailAddress handles DELETE /v1/me/email_addresses/{id}.
func (h *Handler) DeleteEmailAddress(w http.ResponseWriter, r *http.Request) {
	clientID, e, ok := h.ownEmail(w, r)
	if !ok {
		return
	}
	h.store.EmailAddresses.Delete(e.ID)
	h.store.Users.Update(e.UserID, func(u *store.User) {
		if u.PrimaryEmailAddressID == e.ID {
			u.PrimaryEmailAddressID = ""
		}
	})
	h.respond(w, http.StatusOK, deletedJSON{Object: store.ObjectEmailAddress, ID: e.ID, Deleted: true}, clientID)
}

// CreatePhoneNumber handles POST /v1/me/phone_numbers.
func (h *Handler) CreatePhoneNumber(w http.ResponseWriter, r *http.Request) {
	clientID, userID := meFromContext(r.Context())
	var req struct {
		PhoneNumber             string `json:"phone_number"`
		ReservedForSecondFactor bool   `json:"reserved_for_second_factor"`
	}
	if err := decode(r, &req); err != nil {
		h.badBody(w, clientID, err)
		return
	}
	normalized, err := store.NormalizePhone(req.PhoneNumber)
	if err != nil {
		h.fail(w, http.StatusUnprocessableEntity, clientID, paramError("form_param_format_invalid", "phone_number",
			"Phone number is invalid", "The phone number must be a valid phone number."))
		return
	}
	if _, taken := h.store.FindPhone(normalized); taken {
		h.fail(w, http.StatusUnprocessableEntity, clientID, identifierExists("phone_number"))
		return
	}

	p := store.PhoneNumber{
		ID:                      h.store.PhoneNumbers.NextID(),
		UserID:                  userID,
		PhoneNumber:             normalized,
		ReservedForSecondFactor: req.ReservedForSecondFactor,
		CreatedAt:               millis(h.store.Clock.Now()),
	}
	h.store.PhoneNumbers.Set(p.ID, p)
	h.respond(w, http.StatusOK, renderPhoneNumber(p), clientID)
}

// ownPhone loads the phone number named in the URL, checking ownership.
func (h *Handler) ownPhone(w http.ResponseWriter, r *http.Request) (string, store.PhoneNumber, bool) {
	clientID, userID := meFromContext(r.Context())
	p, ok := h.store.PhoneNumbers.Get(chi.URLParam(r, "id"))
	if !ok || p.UserID != userID {
		h.fail(w, http.StatusNotFound, clientID, notFound("phone number"))
		return clientID, store.PhoneNumber{}, false
	}
	p.Verification = p.Verification.Clone()
	if h.expireIfDue(p.Verification) {
		h.store.PhoneNumbers.Set(p.ID, p)
	}
	return clientID, p, true
}

// GetPhoneNumber handles GET /v1/me/phone_numbers/{id}.
func (h *Handler) GetPhoneNumber(w http.ResponseWriter, r *http.Request) {
	clientID, p, ok := h.ownPhone(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, renderPhoneNumber(p), clientID)
}

// PreparePhoneNumberVerification handles
// POST /v1/me/phone_numbers/{id}/prepare_verification.
func (h *Handler) PreparePhoneNumberVerification(w http.ResponseWriter, r *http.Request) {
	clientID, p, ok := h.ownPhone(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, clientID, err)
		return
	}
	if req.Strategy != "" && req.Strategy != "phone_code" {
		h.fail(w, http.StatusUnprocessableEntity, clientID, invalidStrategy(req.Strategy))
		return
	}
	v, err := h.sendCode("phone_code", p.PhoneNumber)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, clientID, apiError("internal_error", "Failed to send code.", err.Error()))
		return
	}
	p.Verification = v
	h.store.PhoneNumbers.Set(p.ID, p)
	h.respond(w, http.StatusOK, renderPhoneNumber(p), clientID)
}

// AttemptPhoneNumberVerification handles
// POST /v1/me/phone_numbers/{id}/attempt_verification.
func (h *Handler) AttemptPhoneNumberVerification(w http.ResponseWriter, r *http.Request) {
	clientID, p, ok := h.ownPhone(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, clientID, err)
		return
	}
	ce := h.checkCode(p.Verification, "phone_code", req.Code)
	if p.Verification != nil {
		h.store.PhoneNumbers.Set(p.ID, p)
	}
	if ce != nil {
		h.fail(w, ce.status, clientID, ce.body)
		return
	}
	h.respond(w, http.StatusOK, renderPhoneNumber(p), clientID)
}

// DeletePhoneNumber handles DELETE /v1/me/phone_numbers/{id}.
func (h *Handler) DeletePhoneNumber(w http.ResponseWriter, r *http.Request) {
	clientID, p, ok := h.ownPhone(w, r)
	if !ok {
		return
	}
	h.store.PhoneNumbers.Delete(p.ID)
	h.store.Users.Update(p.UserID, func(u *store.User) {
		if u.PrimaryPhoneNumberID == p.ID {
			u.PrimaryPhoneNumberID = ""
		}
	})
	h.respond(w, http.StatusOK, deletedJSON{Object: store.ObjectPhoneNumber, ID: p.ID, Deleted: true}, clientID)
}
