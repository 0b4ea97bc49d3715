package api

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

type signUpRequest struct {
	EmailAddress              string `json:"email_address"`
	PhoneNumber               string `json:"phone_number"`
	Username                  string `json:"username"`
	FirstName                 string `json:"first_name"`
	LastName                  string `json:"last_name"`
	Password                  string `json:"password"`
	Strategy                  string `json:"strategy"`
	Ticket                    string `json:"ticket"`
	InvitationToken           string `json:"invitation_token"`
	RedirectURL               string `json:"redirect_url"`
	ActionCompleteRedirectURL string `json:"action_complete_redirect_url"`
}

type verificationRequest struct {
	Strategy    string `json:"strategy"`
	RedirectURL string `json:"redirect_url"`
	Code        string `json:"code"`
}

// CreateSignUp handles POST /v1/client/sign_ups. It replaces the client's
// current sign-up attempt; an empty body starts a blank one.
func (h *Handler) CreateSignUp(w http.ResponseWriter, r *http.Request) {
	client := h.currentClient(w, r)
	var req signUpRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}

	now := h.store.Clock.Now()
	su := store.SignUp{
		ID:        h.store.SignUps.NextID(),
		ClientID:  client.ID,
		Status:    store.SignUpMissingRequirements,
		AbandonAt: millis(now.Add(attemptAbandonTTL)),
		CreatedAt: millis(now),
		UpdatedAt: millis(now),
	}

	ticket := req.Ticket
	if ticket == "" {
		ticket = req.InvitationToken
	}
	if ticket == "" && h.Settings().SignUpMode == SignUpModeRestricted {
		h.fail(w, http.StatusForbidden, client.ID, notAllowedToSignUp())
		return
	}
	if ticket != "" {
		t, ok := h.store.Tickets.Get(ticket)
		if !ok || t.Used || millis(now) > t.ExpireAt {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("ticket_invalid", "ticket",
				"Invalid ticket", "The ticket is invalid, expired or has already been used."))
			return
		}
		req.EmailAddress = t.EmailAddress
	}

	if errs := h.validateSignUp(req); len(errs) > 0 {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, errs...)
		return
	}
	if err := h.applySignUp(&su, req); err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to store sign up.", err.Error()))
		return
	}

	if ticket != "" {
		h.store.Tickets.Update(ticket, func(t *store.Ticket) { t.Used = true })
		su.Email = &store.Verification{Status: store.VerificationVerified, Strategy: "ticket"}
	}
	if strings.HasPrefix(req.Strategy, "oauth_") {
		if !h.oauthEnabled(req.Strategy) {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
			return
		}
		su.OAuthProvider = req.Strategy
		su.External = h.startOAuth(r, store.LinkSignUp, su.ID, client.ID, req.Strategy, req.RedirectURL, req.ActionCompleteRedirectURL)
	}
	h.finishSignUp(w, client, su)
}

// validateSignUp checks every field present in req and reports all problems
// at once.
func (h *Handler) validateSignUp(req signUpRequest) []twincore.ErrorBody {
	var errs []twincore.ErrorBody
	if req.EmailAddress != "" {
		if err := validation.Validate(req.EmailAddress, is.Email); err != nil {
			errs = append(errs, paramError("form_param_format_invalid", "email_address",
				"Email address is invalid", "The email address must be a valid email address."))
		} else if _, taken := h.store.FindEmail(req.EmailAddress); taken {
			errs = append(errs, identifierExists("email_address"))
		}
	}
	if req.PhoneNumber != "" {
		if _, err := store.NormalizePhone(req.PhoneNumber); err != nil {
			errs = append(errs, paramError("form_param_format_invalid", "phone_number",
				"Phone number is invalid", "The phone number must be a valid phone number."))
		} else if _, taken := h.store.FindPhone(req.PhoneNumber); taken {
			errs = append(errs, identifierExists("phone_number"))
		}
	}
	if req.Username != "" {
		if err := validation.Validate(req.Username, validation.Length(MinUsernameLength, MaxUsernameLength)); err != nil {
			errs = append(errs, paramError("form_username_invalid_length", "username",
				"Username is invalid", err.Error()))
		} else if _, taken := h.store.Users.Find(func(u store.User) bool {
			return strings.EqualFold(u.Username, req.Username)
		}); taken {
			errs = append(errs, identifierExists("username"))
		}
	}
	if req.Password != "" {
		switch n := utf8.RuneCountInString(req.Password); {
		case n < MinPasswordLength:
			errs = append(errs, paramError("form_password_length_too_short", "password",
				"Passwords must be 8 characters or more.", "Your password is too short."))
		case n > MaxPasswordLength:
			errs = append(errs, paramError("form_password_length_too_long", "password",
				"Passwords must be 72 characters or less.", "Your password is too long."))
		}
	}
	return errs
}

func notAllowedToSignUp() twincore.ErrorBody {
	return apiError("not_allowed_to_sign_up", "Sign ups are restricted",
		"Sign ups are restricted to invited users. Contact the application owner.")
}

func identifierExists(param string) twincore.ErrorBody {
	return paramError("form_identifier_exists", param,
		"That "+strings.ReplaceAll(param, "_", " ")+" is taken. Please try another.",
		"This identifier already belongs to an account.")
}

// applySignUp merges the non-empty fields of req into su. Changing an
// identifier drops its verification.
func (h *Handler) applySignUp(su *store.SignUp, req signUpRequest) error {
	if req.EmailAddress != "" && !strings.EqualFold(req.EmailAddress, su.EmailAddress) {
		su.EmailAddress = req.EmailAddress
		su.Email = nil
	}
	if req.PhoneNumber != "" {
		normalized, err := store.NormalizePhone(req.PhoneNumber)
		if err != nil {
			return err
		}
		if normalized != su.PhoneNumber {
			su.PhoneNumber = normalized
			su.Phone = nil
		}
	}
	if req.Username != "" {
		su.Username = req.Username
	}
	if req.FirstName != "" {
		su.FirstName = req.FirstName
	}
	if req.LastName != "" {
		su.LastName = req.LastName
	}
	if req.Password != "" {
		hash, err := store.HashPassword(req.Password)
		if err != nil {
			return err
		}
		su.PasswordHash = hash
	}
	return nil
}

// finishSignUp completes su when nothing is missing or unverified, stores it
// and responds with it.
func (h *Handler) finishSignUp(w http.ResponseWriter, client store.Client, su store.SignUp) {
	if h.saveSignUp(w, client, &su, true) {
		h.respond(w, http.StatusOK, h.renderSignUp(su), client.ID)
	}
}

// saveSignUp persists su, completing it first when nothing is missing or
// unverified. Session cookies are only set when setCookies is true.
func (h *Handler) saveSignUp(w http.ResponseWriter, client store.Client, su *store.SignUp, setCookies bool) bool {
	su.UpdatedAt = millis(h.store.Clock.Now())
	if su.Status == store.SignUpMissingRequirements && len(missingFields(*su)) == 0 && len(unverifiedFields(*su)) == 0 {
		if !h.completeSignUp(w, client, su, setCookies) {
			return false
		}
	}
	h.store.SignUps.Set(su.ID, *su)

	current := su.ID
	if su.Status != store.SignUpMissingRequirements {
		current = ""
	}
	h.touchClient(client.ID, func(c *store.Client) {
		if current != "" || c.SignUpID == su.ID {
			c.SignUpID = current
		}
	})
	return true
}

// completeSignUp creates the user and its first session.
func (h *Handler) completeSignUp(w http.ResponseWriter, client store.Client, su *store.SignUp, setCookies bool) bool {
	seed := store.UserSeed{
		Username:  su.Username,
		FirstName: su.FirstName,
		LastName:  su.LastName,
	}
	if su.EmailAddress != "" {
		seed.EmailAddresses = []string{su.EmailAddress}
	}
	if su.PhoneNumber != "" {
		seed.PhoneNumbers = []store.PhoneSeed{{PhoneNumber: su.PhoneNumber}}
	}
	if su.OAuthProvider != "" && su.External.Verified() {
		seed.OAuthProviders = []string{su.OAuthProvider}
	}

	created, err := h.store.CreateUser(seed)
	if errors.Is(err, store.ErrIdentifierTaken) {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, identifierExists("email_address"))
		return false
	}
	if err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to create user.", err.Error()))
		return false
	}
	if su.PasswordHash != "" {
		h.store.Users.Update(created.User.ID, func(u *store.User) { u.PasswordHash = su.PasswordHash })
	}

	var cw http.ResponseWriter
	if setCookies {
		cw = w
	}
	sess, err := h.createSession(cw, client.ID, created.User.ID)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to create session.", err.Error()))
		return false
	}
	su.Status = store.SignUpComplete
	su.CreatedUserID = created.User.ID
	su.CreatedSessionID = sess.ID
	h.logger.Info("sign up complete", "sign_up_id", su.ID, "user_id", created.User.ID, "session_id", sess.ID)
	return true
}

// clientSignUp loads the attempt named in the URL, checking that it belongs
// to the caller's client. Verifications past their expiry are marked.
func (h *Handler) clientSignUp(w http.ResponseWriter, r *http.Request) (store.Client, store.SignUp, bool) {
	client := h.currentClient(w, r)
	su, ok := h.store.SignUps.Get(chi.URLParam(r, "id"))
	if !ok || su.ClientID != client.ID {
		h.fail(w, http.StatusNotFound, client.ID, notFound("sign up"))
		return client, store.SignUp{}, false
	}
	su.Email, su.Phone, su.External = su.Email.Clone(), su.Phone.Clone(), su.External.Clone()
	email, phone, external := h.expireIfDue(su.Email), h.expireIfDue(su.Phone), h.expireIfDue(su.External)
	if email || phone || external {
		h.store.SignUps.Set(su.ID, su)
	}
	return client, su, true
}

// GetSignUp handles GET /v1/client/sign_ups/{id}.
func (h *Handler) GetSignUp(w http.ResponseWriter, r *http.Request) {
	client, su, ok := h.clientSignUp(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, h.renderSignUp(su), client.ID)
}

// UpdateSignUp handles PATCH /v1/client/sign_ups/{id}.
func (h *Handler) UpdateSignUp(w http.ResponseWriter, r *http.Request) {
	client, su, ok := h.clientSignUp(w, r)
	if !ok {
		return
	}
	var req signUpRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}
	if su.Status != store.SignUpMissingRequirements {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(su.Status))
		return
	}
	if errs := h.validateSignUp(req); len(errs) > 0 {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, errs...)
		return
	}
	if err := h.applySignUp(&su, req); err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to store sign up.", err.Error()))
		return
	}
	h.finishSignUp(w, client, su)
}

// PrepareSignUpVerification handles POST /v1/client/sign_ups/{id}/prepare_verification.
func (h *Handler) PrepareSignUpVerification(w http.ResponseWriter, r *http.Request) {
	client, su, ok := h.clientSignUp(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}
	if su.Status != store.SignUpMissingRequirements {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(su.Status))
		return
	}

	switch req.Strategy {
	case "email_code", "email_link":
		if su.EmailAddress == "" {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("form_param_missing", "email_address",
				"Email address is missing", "Add an email address before verifying it."))
			return
		}
		if req.Strategy == "email_link" {
			if req.RedirectURL == "" {
				h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("form_param_missing", "redirect_url",
					"Redirect URL is missing", "An email_link verification needs a redirect_url."))
				return
			}
			su.Email = h.sendLink(r, store.LinkSignUp, su.ID, client.ID, su.EmailAddress, req.RedirectURL)
			break
		}
		v, err := h.sendCode(req.Strategy, su.EmailAddress)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to send code.", err.Error()))
			return
		}
		su.Email = v
	case "phone_code":
		if su.PhoneNumber == "" {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("form_param_missing", "phone_number",
				"Phone number is missing", "Add a phone number before verifying it."))
			return
		}
		v, err := h.sendCode(req.Strategy, su.PhoneNumber)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to send code.", err.Error()))
			return
		}
		su.Phone = v
	default:
		h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
		return
	}
	h.finishSignUp(w, client, su)
}

// AttemptSignUpVerification handles POST /v1/client/sign_ups/{id}/attempt_verification.
func (h *Handler) AttemptSignUpVerification(w http.ResponseWriter, r *http.Request) {
	client, su, ok := h.clientSignUp(w, r)
	if !ok {
		return
	}
	var req verificationRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}
	if su.Status != store.SignUpMissingRequirements {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(su.Status))
		return
	}

	var v *store.Verification
	switch req.Strategy {
	case "email_code":
		v = su.Email
	case "phone_code":
		v = su.Phone
	default:
		h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
		return
	}
	if ce := h.checkCode(v, req.Strategy, req.Code); ce != nil {
		if v != nil {
			h.saveSignUp(w, client, &su, true)
		}
		h.fail(w, ce.status, client.ID, ce.body)
		return
	}
	h.finishSignUp(w, client, su)
}
