package api

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// TestCode is the fixed one-time code for test identifiers: email addresses
// containing "+clerk_test" and the reserved +1 555 555 01xx numbers.
const TestCode = "424242"

func isTestIdentifier(identifier string) bool {
	return strings.Contains(identifier, "+clerk_test") || strings.HasPrefix(identifier, "+155555501")
}

func newCode(identifier string) (string, error) {
	if isTestIdentifier(identifier) {
		return TestCode, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func channelFor(strategy string) string {
	if strings.HasPrefix(strategy, "phone") {
		return "sms"
	}
	return "email"
}

// sendCode starts a one-time code verification for to and records the
// message in the outbox.
func (h *Handler) sendCode(strategy, to string) (*store.Verification, error) {
	code, err := newCode(to)
	if err != nil {
		return nil, err
	}
	now := h.store.Clock.Now()
	h.store.Deliver(store.Message{Channel: channelFor(strategy), To: to, Strategy: strategy, Code: code})
	h.logger.Debug("code delivered", "strategy", strategy, "to", to)
	return &store.Verification{
		Status:   store.VerificationUnverified,
		Strategy: strategy,
		ExpireAt: millis(now.Add(h.Settings().CodeTTL)),
		Code:     code,
	}, nil
}

// sendLink starts an email_link verification for the attempt or identifier
// targetID and emails the link to to.
func (h *Handler) sendLink(r *http.Request, kind, targetID, clientID, to, redirectURL string) *store.Verification {
	now := h.store.Clock.Now()
	expireAt := millis(now.Add(h.Settings().CodeTTL))
	token := uuid.NewString()
	h.store.Links.Set(token, store.Link{
		Token:       token,
		Kind:        kind,
		TargetID:    targetID,
		ClientID:    clientID,
		Strategy:    "email_link",
		RedirectURL: redirectURL,
		ExpireAt:    expireAt,
	})
	link := baseURL(r) + "/v1/verify?token=" + url.QueryEscape(token)
	h.store.Deliver(store.Message{Channel: "email", To: to, Strategy: "email_link", Link: link})
	h.logger.Debug("link delivered", "kind", kind, "target_id", targetID, "to", to)
	return &store.Verification{
		Status:      store.VerificationUnverified,
		Strategy:    "email_link",
		ExpireAt:    expireAt,
		Token:       token,
		RedirectURL: redirectURL,
	}
}

// startOAuth starts an external verification. The returned verification
// points at the twin's callback, which stands in for the provider.
func (h *Handler) startOAuth(r *http.Request, kind, targetID, clientID, strategy, redirectURL, actionCompleteURL string) *store.Verification {
	now := h.store.Clock.Now()
	expireAt := millis(now.Add(h.Settings().CodeTTL))
	state := uuid.NewString()
	h.store.Links.Set(state, store.Link{
		Token:       state,
		Kind:        kind,
		TargetID:    targetID,
		ClientID:    clientID,
		Strategy:    strategy,
		RedirectURL: actionCompleteURL,
		ExpireAt:    expireAt,
	})
	return &store.Verification{
		Status:                          store.VerificationUnverified,
		Strategy:                        strategy,
		ExpireAt:                        expireAt,
		Token:                           state,
		RedirectURL:                     redirectURL,
		ActionCompleteRedirectURL:       actionCompleteURL,
		ExternalVerificationRedirectURL: baseURL(r) + "/v1/oauth_callback?state=" + url.QueryEscape(state),
	}
}

// expireIfDue marks an unverified verification expired once its expiry time
// has passed on the twin clock. It reports whether v changed.
func (h *Handler) expireIfDue(v *store.Verification) bool {
	if v == nil || v.Status != store.VerificationUnverified || v.ExpireAt == 0 {
		return false
	}
	if millis(h.store.Clock.Now()) <= v.ExpireAt {
		return false
	}
	v.Status = store.VerificationExpired
	return true
}

// codeError is a rejected code attempt.
type codeError struct {
	status int
	body   twincore.ErrorBody
}

// checkCode applies one attempt of a prepared one-time code to v. It returns
// nil once v is verified. Attempts and status changes are recorded on v even
// when it returns an error.
func (h *Handler) checkCode(v *store.Verification, strategy, code string) *codeError {
	if v == nil || v.Strategy != strategy || (v.Code == "" && v.Status == store.VerificationUnverified) {
		return &codeError{http.StatusBadRequest, paramError("verification_missing", "strategy",
			"Verification not prepared", "Prepare a "+strategy+" verification before attempting it.")}
	}
	return h.applyAttempt(v, code != "" && code == v.Code)
}

// applyAttempt records one attempt with the given outcome on v.
func (h *Handler) applyAttempt(v *store.Verification, correct bool) *codeError {
	h.expireIfDue(v)
	switch v.Status {
	case store.VerificationVerified:
		return &codeError{http.StatusBadRequest, apiError("verification_already_verified",
			"Already verified", "This verification has already been completed.")}
	case store.VerificationExpired:
		return &codeError{http.StatusUnprocessableEntity, apiError("verification_expired",
			"Verification expired", "This verification has expired. Request a new code.")}
	case store.VerificationFailed:
		return &codeError{http.StatusUnprocessableEntity, apiError("verification_failed",
			"Too many failed attempts", "You have exceeded the number of attempts. Request a new code.")}
	}

	v.Attempts++
	if !correct {
		if v.Attempts >= h.Settings().MaxCodeAttempts {
			v.Status = store.VerificationFailed
			return &codeError{http.StatusUnprocessableEntity, apiError("verification_failed",
				"Too many failed attempts", "You have exceeded the number of attempts. Request a new code.")}
		}
		return &codeError{http.StatusUnprocessableEntity, paramError("form_code_incorrect", "code",
			"Incorrect code", "The code you entered is incorrect. Please try again.")}
	}
	v.Status = store.VerificationVerified
	v.Code = ""
	return nil
}
