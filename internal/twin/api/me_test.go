package api_test

import (
	"net/http"
	"testing"

	"github.com/wondertwin-ai/clerkflow/internal/testutil"
)

func TestMeRequiresSession(t *testing.T) {
	_, tc, _ := setupTwin(t)

	resp := tc.Post("/v1/me/email_addresses", map[string]any{"email_address": "x@example.com"}).
		AssertStatus(http.StatusUnauthorized)
	if code := resp.ErrorCode(); code != "authentication_invalid" {
		t.Errorf("expected authentication_invalid, got %s", code)
	}
}

func TestMeRejectsEndedSession(t *testing.T) {
	_, tc, ac := setupTwin(t)
	sessID := signInAda(t, tc, ac)
	tc.Post(testutil.Path("/v1/client/sessions/%s/end", sessID), nil).AssertStatus(http.StatusOK)

	tc.Post("/v1/me/email_addresses", map[string]any{"email_address": "x@example.com"}).
		AssertStatus(http.StatusUnauthorized)
}

func TestMeEmailAddressLifecycle(t *testing.T) {
	_, tc, ac := setupTwin(t)
	signInAda(t, tc, ac)

	created := tc.Post("/v1/me/email_addresses", map[string]any{"email_address": "countess@example.com"}).
		AssertStatus(http.StatusOK).Resource()
	if created["object"] != "email_address" || created["verification"] != nil {
		t.Fatalf("expected an unverified email address, got %v", created)
	}
	path := testutil.Path("/v1/me/email_addresses/%s", str(created, "id"))

	prepared := tc.Post(path+"/prepare_verification", map[string]any{"strategy": "email_code"}).
		AssertStatus(http.StatusOK).Resource()
	if obj(prepared, "verification")["status"] != "unverified" {
		t.Errorf("expected a pending verification, got %v", prepared["verification"])
	}

	tc.Post(path+"/attempt_verification", map[string]any{"code": "nope"}).
		AssertStatus(http.StatusUnprocessableEntity)
	verified := tc.Post(path+"/attempt_verification", map[string]any{
		"code": ac.LatestMessage("countess@example.com").Code,
	}).AssertStatus(http.StatusOK).Resource()
	v := obj(verified, "verification")
	if v["status"] != "verified" || v["attempts"] != float64(2) {
		t.Errorf("expected verified after two attempts, got %v", v)
	}

	deleted := tc.Delete(path).AssertStatus(http.StatusOK).Resource()
	if deleted["deleted"] != true {
		t.Errorf("expected a deletion marker, got %v", deleted)
	}
	tc.Get(path).AssertStatus(http.StatusNotFound)
}

func TestMeEmailAddressTaken(t *testing.T) {
	_, tc, ac := setupTwin(t)
	signInAda(t, tc, ac)

	resp := tc.Post("/v1/me/email_addresses", map[string]any{"email_address": "ada@example.com"}).
		AssertStatus(http.StatusUnprocessableEntity)
	if code := resp.ErrorCode(); code != "form_identifier_exists" {
		t.Errorf("expected form_identifier_exists, got %s", code)
	}
	tc.Post("/v1/me/email_addresses", map[string]any{"email_address": "nope"}).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestMeEmailAddressLink(t *testing.T) {
	_, tc, ac := setupTwin(t)
	signInAda(t, tc, ac)

	created := tc.Post("/v1/me/email_addresses", map[string]any{"email_address": "linkme@example.com"}).
		AssertStatus(http.StatusOK).Resource()
	path := testutil.Path("/v1/me/email_addresses/%s", str(created, "id"))

	tc.Post(path+"/prepare_verification", map[string]any{"strategy": "email_link"}).
		AssertStatus(http.StatusUnprocessableEntity)
	tc.Post(path+"/prepare_verification", map[string]any{
		"strategy":     "email_link",
		"redirect_url": "http://app.test/verified",
	}).AssertStatus(http.StatusOK)

	tc.Open(ac.LatestMessage("linkme@example.com").Link).AssertStatus(http.StatusSeeOther)
	v := obj(tc.Get(path).AssertStatus(http.StatusOK).Resource(), "verification")
	if v["status"] != "verified" || str(v, "verified_at_client") == "" {
		t.Errorf("expected a link-verified address, got %v", v)
	}
}

func TestMePhoneNumberLifecycle(t *testing.T) {
	_, tc, ac := setupTwin(t)
	signInAda(t, tc, ac)

	created := tc.Post("/v1/me/phone_numbers", map[string]any{"phone_number": "(555) 555-0188"}).
		AssertStatus(http.StatusOK).Resource()
	if created["phone_number"] != "+15555550188" {
		t.Fatalf("expected E.164 phone number, got %v", created["phone_number"])
	}
	path := testutil.Path("/v1/me/phone_numbers/%s", str(created, "id"))

	tc.Post(path+"/attempt_verification", map[string]any{"code": "424242"}).
		AssertStatus(http.StatusBadRequest)
	tc.Post(path+"/prepare_verification", map[string]any{"strategy": "email_code"}).
		AssertStatus(http.StatusUnprocessableEntity)
	tc.Post(path+"/prepare_verification", nil).AssertStatus(http.StatusOK)

	verified := tc.Post(path+"/attempt_verification", map[string]any{
		"code": ac.LatestMessage("+15555550188").Code,
	}).AssertStatus(http.StatusOK).Resource()
	if obj(verified, "verification")["status"] != "verified" {
		t.Errorf("expected a verified phone number, got %v", verified)
	}

	tc.Delete(path).AssertStatus(http.StatusOK)
	tc.Get(path).AssertStatus(http.StatusNotFound)
}

func TestMeInvalidPhoneNumber(t *testing.T) {
	_, tc, ac := setupTwin(t)
	signInAda(t, tc, ac)

	resp := tc.Post("/v1/me/phone_numbers", map[string]any{"phone_number": "12"}).
		AssertStatus(http.StatusUnprocessableEntity)
	if code := resp.ErrorCode(); code != "form_param_format_invalid" {
		t.Errorf("expected form_param_format_invalid, got %s", code)
	}
}

func TestMeCannotTouchAnotherUsersAddress(t *testing.T) {
	_, tc, ac := setupTwin(t)
	other := ac.SeedUser(map[string]any{"email_addresses": []string{"grace@example.com"}})
	signInAda(t, tc, ac)

	tc.Get(testutil.Path("/v1/me/email_addresses/%s", other.EmailAddresses[0].ID)).
		AssertStatus(http.StatusNotFound)
}
