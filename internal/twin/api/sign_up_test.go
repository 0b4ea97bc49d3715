package api_test

import (
	"net/http"
	"testing"

	"github.com/wondertwin-ai/clerkflow/internal/testutil"
	"github.com/wondertwin-ai/clerkflow/internal/twin/api"
)

func signUpPath(id, action string) string {
	if action == "" {
		return testutil.Path("/v1/client/sign_ups/%s", id)
	}
	return testutil.Path("/v1/client/sign_ups/%s/%s", id, action)
}

func stringsOf(m map[string]any, key string) []string {
	var out []string
	list, _ := m[key].([]any)
	for _, v := range list {
		out = append(out, v.(string))
	}
	return out
}

func TestSignUpWithEmailCode(t *testing.T) {
	srv, tc, ac := setupTwin(t)

	su := tc.Post("/v1/client/sign_ups", map[string]any{
		"email_address": "grace+clerk_test@example.com",
		"password":      testPassword,
		"first_name":    "Grace",
	}).AssertStatus(http.StatusOK).Resource()
	if su["object"] != "sign_up_attempt" || su["status"] != "missing_requirements" {
		t.Fatalf("unexpected sign up %v", su)
	}
	if missing := stringsOf(su, "missing_fields"); len(missing) != 0 {
		t.Errorf("expected nothing missing, got %v", missing)
	}
	if unverified := stringsOf(su, "unverified_fields"); len(unverified) != 1 || unverified[0] != "email_address" {
		t.Errorf("expected email_address unverified, got %v", unverified)
	}
	id := str(su, "id")

	prepared := tc.Post(signUpPath(id, "prepare_verification"), map[string]any{"strategy": "email_code"}).
		AssertStatus(http.StatusOK).Resource()
	if v := obj(obj(prepared, "verifications"), "email_address"); v["status"] != "unverified" {
		t.Errorf("expected an unverified email verification, got %v", v)
	}

	done := tc.Post(signUpPath(id, "attempt_verification"), map[string]any{
		"strategy": "email_code",
		"code":     ac.LatestMessage("grace+clerk_test@example.com").Code,
	}).AssertStatus(http.StatusOK)
	res := done.Resource()
	if res["status"] != "complete" || str(res, "created_session_id") == "" || str(res, "created_user_id") == "" {
		t.Fatalf("expected a complete sign up, got %v", res)
	}
	if c := clientOf(t, done); c["sign_up"] != nil || str(c, "last_active_session_id") != str(res, "created_session_id") {
		t.Errorf("unexpected client after sign up: %v", c)
	}

	user, ok := srv.Store.Users.Get(str(res, "created_user_id"))
	if !ok || user.FirstName != "Grace" || user.PasswordHash == "" {
		t.Errorf("unexpected created user %+v", user)
	}

	other := testutil.NewTwinClientURL(t, tc.BaseURL)
	other.Post("/v1/client/sign_ins", map[string]any{
		"identifier": "grace+clerk_test@example.com",
		"password":   testPassword,
	}).AssertStatus(http.StatusOK)
}

func TestSignUpReportsEveryInvalidField(t *testing.T) {
	_, tc, _ := setupTwin(t)

	resp := tc.Post("/v1/client/sign_ups", map[string]any{
		"email_address": "not-an-email",
		"username":      "ab",
		"password":      "short",
	}).AssertStatus(http.StatusUnprocessableEntity)

	env := decodeError(t, resp)
	got := map[string]string{}
	for _, e := range env.Errors {
		got[e.Meta["param_name"].(string)] = e.Code
	}
	want := map[string]string{
		"email_address": "form_param_format_invalid",
		"username":      "form_username_invalid_length",
		"password":      "form_password_length_too_short",
	}
	for param, code := range want {
		if got[param] != code {
			t.Errorf("%s: expected %s, got %q", param, code, got[param])
		}
	}
}

func TestSignUpIdentifierExists(t *testing.T) {
	_, tc, ac := setupTwin(t)
	seedAda(ac, nil)

	resp := tc.Post("/v1/client/sign_ups", map[string]any{"email_address": "ADA@example.com"}).
		AssertStatus(http.StatusUnprocessableEntity)
	e := decodeError(t, resp).Errors[0]
	if e.Code != "form_identifier_exists" || e.Meta["param_name"] != "email_address" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestSignUpUpdateFillsMissingFields(t *testing.T) {
	_, tc, _ := setupTwin(t)

	su := tc.Post("/v1/client/sign_ups", map[string]any{"email_address": "lin@example.com"}).
		AssertStatus(http.StatusOK).Resource()
	if missing := stringsOf(su, "missing_fields"); len(missing) != 1 || missing[0] != "password" {
		t.Fatalf("expected password missing, got %v", missing)
	}

	updated := tc.Patch(signUpPath(str(su, "id"), ""), map[string]any{"password": testPassword, "username": "linnea"}).
		AssertStatus(http.StatusOK).Resource()
	if missing := stringsOf(updated, "missing_fields"); len(missing) != 0 {
		t.Errorf("expected nothing missing, got %v", missing)
	}
	if updated["username"] != "linnea" || updated["password_enabled"] != true {
		t.Errorf("unexpected update %v", updated)
	}
}

func TestSignUpPhoneVerification(t *testing.T) {
	_, tc, ac := setupTwin(t)

	su := tc.Post("/v1/client/sign_ups", map[string]any{
		"email_address": "phone+clerk_test@example.com",
		"phone_number":  "555-555-0177",
		"password":      testPassword,
	}).AssertStatus(http.StatusOK).Resource()
	if su["phone_number"] != "+15555550177" {
		t.Errorf("expected E.164 phone number, got %v", su["phone_number"])
	}
	id := str(su, "id")

	tc.Post(signUpPath(id, "prepare_verification"), map[string]any{"strategy": "phone_code"}).AssertStatus(http.StatusOK)
	after := tc.Post(signUpPath(id, "attempt_verification"), map[string]any{
		"strategy": "phone_code",
		"code":     ac.LatestMessage("+15555550177").Code,
	}).AssertStatus(http.StatusOK).Resource()
	if unverified := stringsOf(after, "unverified_fields"); len(unverified) != 1 || unverified[0] != "email_address" {
		t.Errorf("expected only the email unverified, got %v", unverified)
	}
	if after["status"] != "missing_requirements" {
		t.Errorf("expected missing_requirements, got %v", after["status"])
	}
}

func TestSignUpWithTicketSkipsEmailVerification(t *testing.T) {
	_, tc, ac := setupTwin(t)
	ticket := ac.CreateTicket("invitee@example.com")

	su := tc.Post("/v1/client/sign_ups", map[string]any{
		"strategy": "ticket",
		"ticket":   ticket,
		"password": testPassword,
	}).AssertStatus(http.StatusOK).Resource()
	if su["status"] != "complete" || su["email_address"] != "invitee@example.com" {
		t.Errorf("expected a complete sign up for the invitee, got %v", su)
	}
}

func TestSignUpRestrictedMode(t *testing.T) {
	_, tc, ac := setupTwin(t)
	ac.UpdateConfig(map[string]any{"sign_up_mode": api.SignUpModeRestricted}).AssertStatus(http.StatusOK)

	resp := tc.Post("/v1/client/sign_ups", map[string]any{"email_address": "walkin@example.com"}).
		AssertStatus(http.StatusForbidden)
	if code := decodeError(t, resp).Errors[0].Code; code != "not_allowed_to_sign_up" {
		t.Errorf("expected not_allowed_to_sign_up, got %s", code)
	}

	ticket := ac.CreateTicket("invited@example.com")
	tc.Post("/v1/client/sign_ups", map[string]any{"ticket": ticket}).AssertStatus(http.StatusOK)
}

func TestSignUpAttemptAfterCompleteIsRefused(t *testing.T) {
	_, tc, ac := setupTwin(t)
	ticket := ac.CreateTicket("done@example.com")
	su := tc.Post("/v1/client/sign_ups", map[string]any{"ticket": ticket, "password": testPassword}).
		AssertStatus(http.StatusOK).Resource()

	resp := tc.Patch(signUpPath(str(su, "id"), ""), map[string]any{"first_name": "Late"}).
		AssertStatus(http.StatusBadRequest)
	if code := decodeError(t, resp).Errors[0].Code; code != "verification_invalid_status" {
		t.Errorf("expected verification_invalid_status, got %s", code)
	}
}
