package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gokyle/twofactor"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

type createSignInRequest struct {
	Identifier                string `json:"identifier"`
	Password                  string `json:"password"`
	Strategy                  string `json:"strategy"`
	Ticket                    string `json:"ticket"`
	RedirectURL               string `json:"redirect_url"`
	ActionCompleteRedirectURL string `json:"action_complete_redirect_url"`
}

type prepareFactorRequest struct {
	Strategy                  string `json:"strategy"`
	EmailAddressID            string `json:"email_address_id"`
	PhoneNumberID             string `json:"phone_number_id"`
	RedirectURL               string `json:"redirect_url"`
	ActionCompleteRedirectURL string `json:"action_complete_redirect_url"`
}

type attemptFactorRequest struct {
	Strategy string `json:"strategy"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// CreateSignIn handles POST /v1/client/sign_ins. It replaces the client's
// current sign-in attempt. An identifier with a password can complete the
// attempt in one call; a ticket always does unless a second factor is due.
func (h *Handler) CreateSignIn(w http.ResponseWriter, r *http.Request) {
	client := h.currentClient(w, r)
	var req createSignInRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}

	now := h.store.Clock.Now()
	si := store.SignIn{
		ID:        h.store.SignIns.NextID(),
		ClientID:  client.ID,
		Status:    store.SignInNeedsIdentifier,
		AbandonAt: millis(now.Add(attemptAbandonTTL)),
		CreatedAt: millis(now),
		UpdatedAt: millis(now),
	}

	switch {
	case req.Strategy == "ticket" || req.Ticket != "":
		h.signInWithTicket(w, client, si, req.Ticket)
		return
	case strings.HasPrefix(req.Strategy, "oauth_"):
		if !h.oauthEnabled(req.Strategy) {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
			return
		}
		si.FirstFactor = h.startOAuth(r, store.LinkSignIn, si.ID, client.ID, req.Strategy, req.RedirectURL, req.ActionCompleteRedirectURL)
		h.finishSignIn(w, client, si)
		return
	case req.Identifier == "":
		h.finishSignIn(w, client, si)
		return
	}

	user, ok := h.store.FindUserByIdentifier(req.Identifier)
	if !ok {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("form_identifier_not_found", "identifier",
			"Couldn't find your account.", "No account matches the identifier you entered."))
		return
	}
	if sess, ok := h.activeSessionFor(client.ID, user.ID); ok {
		e := apiError("identifier_already_signed_in", "You're already signed in",
			"The identifier is already signed in on this client.")
		e.Meta = map[string]any{"session_id": sess.ID}
		h.fail(w, http.StatusBadRequest, client.ID, e)
		return
	}

	si.Identifier = req.Identifier
	si.UserID = user.ID
	si.Status = store.SignInNeedsFirstFactor

	strategy := req.Strategy
	if strategy == "" && req.Password != "" {
		strategy = "password"
	}
	switch strategy {
	case "":
	case "password":
		if ce := h.checkPassword(user, req.Password); ce != nil {
			h.fail(w, ce.status, client.ID, ce.body)
			return
		}
		si.FirstFactor = &store.Verification{Status: store.VerificationVerified, Strategy: "password"}
		h.advanceSignIn(&si, user)
	case "email_code", "email_link", "phone_code":
		if ce := h.prepareFirstFactor(r, &si, user, prepareFactorRequest{Strategy: strategy, RedirectURL: req.RedirectURL}); ce != nil {
			h.fail(w, ce.status, client.ID, ce.body)
			return
		}
	default:
		h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(strategy))
		return
	}
	h.finishSignIn(w, client, si)
}

func (h *Handler) signInWithTicket(w http.ResponseWriter, client store.Client, si store.SignIn, token string) {
	ticket, ok := h.store.Tickets.Get(token)
	if !ok || ticket.Used || millis(h.store.Clock.Now()) > ticket.ExpireAt {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("ticket_invalid", "ticket",
			"Invalid ticket", "The ticket is invalid, expired or has already been used."))
		return
	}

	user, ok := h.store.Users.Get(ticket.UserID)
	if !ok {
		user, ok = h.store.FindUserByIdentifier(ticket.EmailAddress)
	}
	if !ok {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("form_identifier_not_found", "ticket",
			"Couldn't find your account.", "No account matches the ticket's email address."))
		return
	}
	h.store.Tickets.Update(token, func(t *store.Ticket) { t.Used = true })

	si.Identifier = ticket.EmailAddress
	si.UserID = user.ID
	si.Status = store.SignInNeedsFirstFactor
	si.FirstFactor = &store.Verification{Status: store.VerificationVerified, Strategy: "ticket"}
	h.advanceSignIn(&si, user)
	h.finishSignIn(w, client, si)
}

// requiresSecondFactor reports whether the user has enrolled a second factor.
func (h *Handler) requiresSecondFactor(user store.User) bool {
	if user.TOTPSecret != "" || len(user.BackupCodes) > 0 {
		return true
	}
	for _, p := range h.store.UserPhones(user.ID) {
		if p.ReservedForSecondFactor && p.Verification.Verified() {
			return true
		}
	}
	return false
}

// advanceSignIn moves si forward after a factor was verified.
func (h *Handler) advanceSignIn(si *store.SignIn, user store.User) {
	switch si.Status {
	case store.SignInNeedsFirstFactor:
		if !si.FirstFactor.Verified() {
			return
		}
		if h.requiresSecondFactor(user) {
			si.Status = store.SignInNeedsSecondFactor
			return
		}
		si.Status = store.SignInComplete
	case store.SignInNeedsSecondFactor:
		if si.SecondFactor.Verified() {
			si.Status = store.SignInComplete
		}
	}
}

// finishSignIn stores si, creating the session if it just completed, and
// responds with it.
func (h *Handler) finishSignIn(w http.ResponseWriter, client store.Client, si store.SignIn) {
	if h.saveSignIn(w, client, &si, true) {
		h.respond(w, http.StatusOK, h.renderSignIn(si), client.ID)
	}
}

// saveSignIn persists si. A completed attempt gets its session and is no
// longer the client's current sign-in. Session cookies are only set when the
// request came from the attempt's own client.
func (h *Handler) saveSignIn(w http.ResponseWriter, client store.Client, si *store.SignIn, setCookies bool) bool {
	si.UpdatedAt = millis(h.store.Clock.Now())
	if si.Status == store.SignInComplete && si.CreatedSessionID == "" {
		var cw http.ResponseWriter
		if setCookies {
			cw = w
		}
		sess, err := h.createSession(cw, client.ID, si.UserID)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to create session.", err.Error()))
			return false
		}
		si.CreatedSessionID = sess.ID
		h.logger.Info("sign in complete", "sign_in_id", si.ID, "session_id", sess.ID)
	}
	h.store.SignIns.Set(si.ID, *si)

	current := si.ID
	if si.Status == store.SignInComplete {
		current = ""
	}
	h.touchClient(client.ID, func(c *store.Client) {
		if current != "" || c.SignInID == si.ID {
			c.SignInID = current
		}
	})
	return true
}

// clientSignIn loads the attempt named in the URL, checking that it belongs
// to the caller's client. Verifications past their expiry are marked.
func (h *Handler) clientSignIn(w http.ResponseWriter, r *http.Request) (store.Client, store.SignIn, bool) {
	client := h.currentClient(w, r)
	si, ok := h.store.SignIns.Get(chi.URLParam(r, "id"))
	if !ok || si.ClientID != client.ID {
		h.fail(w, http.StatusNotFound, client.ID, notFound("sign in"))
		return client, store.SignIn{}, false
	}
	si.FirstFactor, si.SecondFactor = si.FirstFactor.Clone(), si.SecondFactor.Clone()
	first, second := h.expireIfDue(si.FirstFactor), h.expireIfDue(si.SecondFactor)
	if first || second {
		h.store.SignIns.Set(si.ID, si)
	}
	return client, si, true
}

// GetSignIn handles GET /v1/client/sign_ins/{id}.
func (h *Handler) GetSignIn(w http.ResponseWriter, r *http.Request) {
	client, si, ok := h.clientSignIn(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, h.renderSignIn(si), client.ID)
}

// PrepareFirstFactor handles POST /v1/client/sign_ins/{id}/prepare_first_factor.
func (h *Handler) PrepareFirstFactor(w http.ResponseWriter, r *http.Request) {
	client, si, ok := h.clientSignIn(w, r)
	if !ok {
		return
	}
	var req prepareFactorRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}

	if strings.HasPrefix(req.Strategy, "oauth_") && si.Status != store.SignInComplete {
		if !h.oauthEnabled(req.Strategy) {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
			return
		}
		si.FirstFactor = h.startOAuth(r, store.LinkSignIn, si.ID, client.ID, req.Strategy, req.RedirectURL, req.ActionCompleteRedirectURL)
		h.finishSignIn(w, client, si)
		return
	}
	if si.Status != store.SignInNeedsFirstFactor {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(si.Status))
		return
	}
	user, ok := h.store.Users.Get(si.UserID)
	if !ok {
		h.fail(w, http.StatusNotFound, client.ID, notFound("user"))
		return
	}
	if ce := h.prepareFirstFactor(r, &si, user, req); ce != nil {
		h.fail(w, ce.status, client.ID, ce.body)
		return
	}
	h.finishSignIn(w, client, si)
}

func (h *Handler) prepareFirstFactor(r *http.Request, si *store.SignIn, user store.User, req prepareFactorRequest) *codeError {
	switch req.Strategy {
	case "email_code", "email_link":
		email, ok := h.userEmail(user, req.EmailAddressID, si.Identifier)
		if !ok {
			return &codeError{http.StatusUnprocessableEntity, paramError("form_param_value_invalid", "email_address_id",
				"Unknown email address", "The email address does not belong to this account.")}
		}
		if req.Strategy == "email_link" {
			if req.RedirectURL == "" {
				return &codeError{http.StatusUnprocessableEntity, paramError("form_param_missing", "redirect_url",
					"Redirect URL is missing", "An email_link verification needs a redirect_url.")}
			}
			si.FirstFactor = h.sendLink(r, store.LinkSignIn, si.ID, si.ClientID, email.EmailAddress, req.RedirectURL)
		} else {
			v, err := h.sendCode(req.Strategy, email.EmailAddress)
			if err != nil {
				return &codeError{http.StatusInternalServerError, apiError("internal_error", "Failed to send code.", err.Error())}
			}
			si.FirstFactor = v
		}
		si.FirstFactorID = email.ID
	case "phone_code":
		phone, ok := h.userPhone(user, req.PhoneNumberID, si.Identifier, false)
		if !ok {
			return &codeError{http.StatusUnprocessableEntity, paramError("form_param_value_invalid", "phone_number_id",
				"Unknown phone number", "The phone number does not belong to this account.")}
		}
		v, err := h.sendCode(req.Strategy, phone.PhoneNumber)
		if err != nil {
			return &codeError{http.StatusInternalServerError, apiError("internal_error", "Failed to send code.", err.Error())}
		}
		si.FirstFactor = v
		si.FirstFactorID = phone.ID
	default:
		return &codeError{http.StatusUnprocessableEntity, invalidStrategy(req.Strategy)}
	}
	return nil
}

// AttemptFirstFactor handles POST /v1/client/sign_ins/{id}/attempt_first_factor.
func (h *Handler) AttemptFirstFactor(w http.ResponseWriter, r *http.Request) {
	client, si, ok := h.clientSignIn(w, r)
	if !ok {
		return
	}
	var req attemptFactorRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}
	if si.Status != store.SignInNeedsFirstFactor {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(si.Status))
		return
	}
	user, ok := h.store.Users.Get(si.UserID)
	if !ok {
		h.fail(w, http.StatusNotFound, client.ID, notFound("user"))
		return
	}

	switch req.Strategy {
	case "password":
		if ce := h.checkPassword(user, req.Password); ce != nil {
			h.fail(w, ce.status, client.ID, ce.body)
			return
		}
		si.FirstFactor = &store.Verification{Status: store.VerificationVerified, Strategy: "password"}
	case "email_code", "phone_code":
		if ce := h.checkCode(si.FirstFactor, req.Strategy, req.Code); ce != nil {
			if si.FirstFactor != nil && si.FirstFactor.Strategy == req.Strategy {
				h.saveSignIn(w, client, &si, true)
			}
			h.fail(w, ce.status, client.ID, ce.body)
			return
		}
	default:
		h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
		return
	}
	h.advanceSignIn(&si, user)
	h.finishSignIn(w, client, si)
}

// PrepareSecondFactor handles POST /v1/client/sign_ins/{id}/prepare_second_factor.
// Only phone codes need preparing.
func (h *Handler) PrepareSecondFactor(w http.ResponseWriter, r *http.Request) {
	client, si, ok := h.clientSignIn(w, r)
	if !ok {
		return
	}
	var req prepareFactorRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}
	if si.Status != store.SignInNeedsSecondFactor {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(si.Status))
		return
	}
	if req.Strategy != "phone_code" {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
		return
	}
	user, _ := h.store.Users.Get(si.UserID)
	phone, ok := h.userPhone(user, req.PhoneNumberID, "", true)
	if !ok {
		h.fail(w, http.StatusUnprocessableEntity, client.ID, paramError("form_param_value_invalid", "phone_number_id",
			"Unknown phone number", "No second factor phone number matches."))
		return
	}
	v, err := h.sendCode("phone_code", phone.PhoneNumber)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Failed to send code.", err.Error()))
		return
	}
	si.SecondFactor = v
	si.SecondFactorID = phone.ID
	h.finishSignIn(w, client, si)
}

// AttemptSecondFactor handles POST /v1/client/sign_ins/{id}/attempt_second_factor.
func (h *Handler) AttemptSecondFactor(w http.ResponseWriter, r *http.Request) {
	client, si, ok := h.clientSignIn(w, r)
	if !ok {
		return
	}
	var req attemptFactorRequest
	if err := decode(r, &req); err != nil {
		h.badBody(w, client.ID, err)
		return
	}
	if si.Status != store.SignInNeedsSecondFactor {
		h.fail(w, http.StatusBadRequest, client.ID, wrongStatus(si.Status))
		return
	}
	user, _ := h.store.Users.Get(si.UserID)

	var ce *codeError
	switch req.Strategy {
	case "phone_code":
		ce = h.checkCode(si.SecondFactor, req.Strategy, req.Code)
		if si.SecondFactor == nil || si.SecondFactor.Strategy != req.Strategy {
			h.fail(w, ce.status, client.ID, ce.body)
			return
		}
	case "totp":
		if user.TOTPSecret == "" {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
			return
		}
		otp, err := twofactor.NewGoogleTOTP(user.TOTPSecret)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, client.ID, apiError("internal_error", "Invalid TOTP secret.", err.Error()))
			return
		}
		v := h.secondFactorAttempt(&si, req.Strategy)
		ce = h.applyAttempt(v, req.Code != "" && req.Code == otp.OTP())
	case "backup_code":
		if len(user.BackupCodes) == 0 {
			h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
			return
		}
		v := h.secondFactorAttempt(&si, req.Strategy)
		ce = h.applyAttempt(v, slices.Contains(user.BackupCodes, req.Code))
		if ce == nil {
			h.store.Users.Update(user.ID, func(u *store.User) {
				u.BackupCodes = slices.DeleteFunc(u.BackupCodes, func(c string) bool { return c == req.Code })
			})
		}
	default:
		h.fail(w, http.StatusUnprocessableEntity, client.ID, invalidStrategy(req.Strategy))
		return
	}

	if ce != nil {
		h.saveSignIn(w, client, &si, true)
		h.fail(w, ce.status, client.ID, ce.body)
		return
	}
	h.advanceSignIn(&si, user)
	h.finishSignIn(w, client, si)
}

// secondFactorAttempt returns the second factor verification for strategy,
// starting a new one when the previous attempt used another strategy.
func (h *Handler) secondFactorAttempt(si *store.SignIn, strategy string) *store.Verification {
	if si.SecondFactor == nil || si.SecondFactor.Strategy != strategy {
		si.SecondFactor = &store.Verification{Status: store.VerificationUnverified, Strategy: strategy}
		si.SecondFactorID = ""
	}
	return si.SecondFactor
}

func (h *Handler) checkPassword(user store.User, password string) *codeError {
	if user.PasswordHash == "" {
		return &codeError{http.StatusUnprocessableEntity, paramError("invalid_strategy_for_user", "strategy",
			"Invalid verification strategy", "This account has no password. Use another method to sign in.")}
	}
	if !store.CheckPassword(user.PasswordHash, password) {
		return &codeError{http.StatusUnprocessableEntity, paramError("form_password_incorrect", "password",
			"Password is incorrect. Try again, or use another method.", "The password you entered is incorrect.")}
	}
	return nil
}

// userEmail picks the verified email address to send to: the one asked for,
// else the one matching the identifier, else the primary one.
func (h *Handler) userEmail(user store.User, id, identifier string) (store.EmailAddress, bool) {
	emails := h.store.UserEmails(user.ID)
	for _, pick := range []func(store.EmailAddress) bool{
		func(e store.EmailAddress) bool { return id != "" && e.ID == id },
		func(e store.EmailAddress) bool { return id == "" && strings.EqualFold(e.EmailAddress, identifier) },
		func(e store.EmailAddress) bool { return id == "" && e.ID == user.PrimaryEmailAddressID },
	} {
		for _, e := range emails {
			if e.Verification.Verified() && pick(e) {
				return e, true
			}
		}
	}
	return store.EmailAddress{}, false
}

// userPhone picks the verified phone number to text, restricted to numbers
// reserved for the second factor or to those that are not.
func (h *Handler) userPhone(user store.User, id, identifier string, secondFactor bool) (store.PhoneNumber, bool) {
	normalized, _ := store.NormalizePhone(identifier)
	var fallback *store.PhoneNumber
	for _, p := range h.store.UserPhones(user.ID) {
		if !p.Verification.Verified() || p.ReservedForSecondFactor != secondFactor {
			continue
		}
		switch {
		case id != "":
			if p.ID == id {
				return p, true
			}
		case normalized != "" && p.PhoneNumber == normalized:
			return p, true
		case fallback == nil || p.ID == user.PrimaryPhoneNumberID || p.DefaultSecondFactor:
			fallback = &p
		}
	}
	if id != "" || fallback == nil {
		return store.PhoneNumber{}, false
	}
	return *fallback, true
}

func invalidStrategy(strategy string) twincore.ErrorBody {
	return paramError("invalid_strategy_for_user", "strategy",
		"Invalid verification strategy", "The strategy "+strategy+" is not valid for this request.")
}

func wrongStatus(status string) twincore.ErrorBody {
	return apiError("verification_invalid_status", "Invalid status",
		"This step is not allowed while the attempt is "+status+".")
}
