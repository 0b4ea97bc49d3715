package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// LinkStatusParam is the query parameter a magic link redirect reports its
// outcome in.
const LinkStatusParam = "__clerk_status"

// Link outcomes reported by VerifyLink.
const (
	LinkVerified = "verified"
	LinkExpired  = "expired"
	LinkFailed   = "failed"
)

type linkResult struct {
	Object string `json:"object"`
	Status string `json:"status"`
	Kind   string `json:"kind"`
}

// VerifyLink handles GET /v1/verify?token=..., the URL emailed by an
// email_link verification. The verification is marked verified at the
// opener's client, which need not be the client that started it. Links are
// single use.
func (h *Handler) VerifyLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	link, ok := h.store.Links.Get(token)
	if !ok || link.Strategy != "email_link" {
		h.fail(w, http.StatusNotFound, "", notFound("verification link"))
		return
	}
	h.store.Links.Delete(token)

	opener := ""
	if c, ok := h.clientFromCookie(r); ok {
		opener = c.ID
	}
	expired := millis(h.store.Clock.Now()) > link.ExpireAt

	status := LinkFailed
	switch link.Kind {
	case store.LinkSignIn:
		status = h.verifySignInLink(w, link, opener, expired)
	case store.LinkSignUp:
		status = h.verifySignUpLink(w, link, opener, expired)
	case store.LinkEmailAddress:
		status = h.verifyEmailAddressLink(link, opener, expired)
	}
	if status == "" {
		// a save failed and already wrote the error
		return
	}

	h.logger.Info("magic link opened", "kind", link.Kind, "target_id", link.TargetID, "status", status, "opener", opener)
	h.linkOutcome(w, r, link.RedirectURL, linkResult{Object: "verification_result", Status: status, Kind: link.Kind})
}

// markLink resolves a link verification. It reports false when v is not the
// verification the link was issued for, e.g. after a newer prepare.
func markLink(v *store.Verification, token, opener string, expired bool) (string, bool) {
	if v == nil || v.Token != token || v.Status != store.VerificationUnverified {
		return LinkFailed, false
	}
	v.Token = ""
	if expired {
		v.Status = store.VerificationExpired
		return LinkExpired, true
	}
	v.Status = store.VerificationVerified
	v.VerifiedAtClient = opener
	return LinkVerified, true
}

func (h *Handler) verifySignInLink(w http.ResponseWriter, link store.Link, opener string, expired bool) string {
	si, ok := h.store.SignIns.Get(link.TargetID)
	if !ok {
		return LinkFailed
	}
	si.FirstFactor = si.FirstFactor.Clone()
	status, ok := markLink(si.FirstFactor, link.Token, opener, expired)
	if !ok {
		return status
	}
	if user, ok := h.store.Users.Get(si.UserID); ok {
		h.advanceSignIn(&si, user)
	}
	client, _ := h.store.Clients.Get(si.ClientID)
	client.ID = si.ClientID
	if !h.saveSignIn(w, client, &si, opener == si.ClientID) {
		return ""
	}
	return status
}

func (h *Handler) verifySignUpLink(w http.ResponseWriter, link store.Link, opener string, expired bool) string {
	su, ok := h.store.SignUps.Get(link.TargetID)
	if !ok {
		return LinkFailed
	}
	su.Email = su.Email.Clone()
	status, ok := markLink(su.Email, link.Token, opener, expired)
	if !ok {
		return status
	}
	client, _ := h.store.Clients.Get(su.ClientID)
	client.ID = su.ClientID
	if !h.saveSignUp(w, client, &su, opener == su.ClientID) {
		return ""
	}
	return status
}

func (h *Handler) verifyEmailAddressLink(link store.Link, opener string, expired bool) string {
	e, ok := h.store.EmailAddresses.Get(link.TargetID)
	if !ok {
		return LinkFailed
	}
	e.Verification = e.Verification.Clone()
	status, ok := markLink(e.Verification, link.Token, opener, expired)
	if ok {
		h.store.EmailAddresses.Set(e.ID, e)
	}
	return status
}

// linkOutcome redirects to redirectURL with the outcome in the query, or
// reports it as JSON when there is nowhere to go.
func (h *Handler) linkOutcome(w http.ResponseWriter, r *http.Request, redirectURL string, result linkResult) {
	if redirectURL == "" {
		twincore.JSON(w, http.StatusOK, result)
		return
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		twincore.JSON(w, http.StatusOK, result)
		return
	}
	q := u.Query()
	q.Set(LinkStatusParam, result.Status)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// OAuthCallback handles GET /v1/oauth_callback. It stands in for the
// provider's redirect back to the instance: the query names the account the
// provider vouched for (email, first_name, last_name) or the provider's error
// (error=access_denied).
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	link, ok := h.store.Links.Get(state)
	if !ok || !strings.HasPrefix(link.Strategy, "oauth_") {
		h.fail(w, http.StatusNotFound, "", notFound("oauth state"))
		return
	}
	h.store.Links.Delete(state)

	cb := oauthCallback{
		link:      link,
		email:     q.Get("email"),
		firstName: q.Get("first_name"),
		lastName:  q.Get("last_name"),
		denied:    q.Get("error") == "access_denied",
		expired:   millis(h.store.Clock.Now()) > link.ExpireAt,
	}
	if c, ok := h.clientFromCookie(r); ok {
		cb.sameClient = c.ID == link.ClientID
	}
	client, _ := h.store.Clients.Get(link.ClientID)
	client.ID = link.ClientID

	var status string
	switch link.Kind {
	case store.LinkSignIn:
		status = h.oauthSignIn(w, client, cb)
	case store.LinkSignUp:
		status = h.oauthSignUp(w, client, cb)
	default:
		status = store.VerificationFailed
	}
	if status == "" {
		return
	}
	h.logger.Info("oauth callback", "kind", link.Kind, "strategy", link.Strategy, "status", status)
	h.linkOutcome(w, r, link.RedirectURL, linkResult{Object: "oauth_result", Status: status, Kind: link.Kind})
}

type oauthCallback struct {
	link       store.Link
	email      string
	firstName  string
	lastName   string
	denied     bool
	expired    bool
	sameClient bool
}

// resolve settles the external verification v. It returns true when the
// provider vouched for an account.
func (cb oauthCallback) resolve(v *store.Verification) bool {
	v.Token = ""
	switch {
	case cb.expired:
		v.Status = store.VerificationExpired
	case cb.denied:
		v.Status = store.VerificationFailed
		v.Error = &store.VerificationError{
			Code:        "oauth_access_denied",
			Message:     "Access denied",
			LongMessage: "You did not grant access to your " + strings.TrimPrefix(cb.link.Strategy, "oauth_") + " account.",
		}
	case cb.email == "":
		v.Status = store.VerificationFailed
		v.Error = &store.VerificationError{
			Code:        "oauth_email_missing",
			Message:     "Email address missing",
			LongMessage: "The provider did not share an email address.",
		}
	default:
		return true
	}
	return false
}

func (h *Handler) oauthSignIn(w http.ResponseWriter, client store.Client, cb oauthCallback) string {
	si, ok := h.store.SignIns.Get(cb.link.TargetID)
	if !ok {
		return store.VerificationFailed
	}
	si.FirstFactor = si.FirstFactor.Clone()
	if si.FirstFactor == nil || si.FirstFactor.Token != cb.link.Token {
		return store.VerificationFailed
	}
	v := si.FirstFactor
	if cb.resolve(v) {
		user, found := h.store.FindUserByIdentifier(cb.email)
		switch {
		case !found:
			// no account yet, the caller may transfer to a sign-up
			v.Status = store.VerificationTransferable
			v.Error = &store.VerificationError{
				Code:        "external_account_not_found",
				Message:     "External account not found",
				LongMessage: "No account is linked to this " + strings.TrimPrefix(cb.link.Strategy, "oauth_") + " account.",
			}
		default:
			v.Status = store.VerificationVerified
			si.Identifier = cb.email
			si.UserID = user.ID
			si.Status = store.SignInNeedsFirstFactor
			h.advanceSignIn(&si, user)
		}
	}
	if !h.saveSignIn(w, client, &si, cb.sameClient) {
		return ""
	}
	return v.Status
}

func (h *Handler) oauthSignUp(w http.ResponseWriter, client store.Client, cb oauthCallback) string {
	su, ok := h.store.SignUps.Get(cb.link.TargetID)
	if !ok {
		return store.VerificationFailed
	}
	su.External = su.External.Clone()
	if su.External == nil || su.External.Token != cb.link.Token {
		return store.VerificationFailed
	}
	v := su.External
	if cb.resolve(v) {
		if _, taken := h.store.FindEmail(cb.email); taken {
			// the account exists, the caller may transfer to a sign-in
			v.Status = store.VerificationTransferable
			v.Error = &store.VerificationError{
				Code:        "external_account_exists",
				Message:     "External account exists",
				LongMessage: "This " + strings.TrimPrefix(cb.link.Strategy, "oauth_") + " account is already linked to an account.",
			}
		} else {
			v.Status = store.VerificationVerified
			su.EmailAddress = cb.email
			su.Email = &store.Verification{Status: store.VerificationVerified, Strategy: "from_" + cb.link.Strategy}
			if su.FirstName == "" {
				su.FirstName = cb.firstName
			}
			if su.LastName == "" {
				su.LastName = cb.lastName
			}
		}
	}
	if !h.saveSignUp(w, client, &su, cb.sameClient) {
		return ""
	}
	return v.Status
}

// createTicketRequest is the JSON body for POST /admin/tickets.
type createTicketRequest struct {
	EmailAddress string `json:"email_address"`
	UserID       string `json:"user_id,omitempty"`
	ExpiresIn    string `json:"expires_in,omitempty"` // Go duration string, default 24h
}

// CreateTicket handles POST /admin/tickets, which issues a single-use ticket
// such as an invitation.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "", apiError("form_param_invalid", "Invalid request body.", err.Error()))
		return
	}
	if req.EmailAddress == "" && req.UserID == "" {
		h.fail(w, http.StatusBadRequest, "", paramError("form_param_missing", "email_address",
			"email_address or user_id is required.", "A ticket must name who it is for."))
		return
	}
	ttl := 24 * time.Hour
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			h.fail(w, http.StatusBadRequest, "", paramError("form_param_invalid", "expires_in",
				"Invalid expires_in duration.", err.Error()))
			return
		}
		ttl = d
	}
	if req.EmailAddress == "" {
		if u, ok := h.store.Users.Get(req.UserID); ok {
			req.EmailAddress = h.primaryIdentifier(u)
		}
	}

	t := store.Ticket{
		Token:        uuid.NewString(),
		EmailAddress: req.EmailAddress,
		UserID:       req.UserID,
		ExpireAt:     millis(h.store.Clock.Now().Add(ttl)),
	}
	h.store.Tickets.Set(t.Token, t)
	twincore.JSON(w, http.StatusCreated, t)
}
