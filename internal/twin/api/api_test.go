package api_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/wondertwin-ai/clerkflow/internal/testutil"
	"github.com/wondertwin-ai/clerkflow/internal/twin"
	"github.com/wondertwin-ai/clerkflow/internal/twin/api"
)

const testPassword = "correct-horse-battery"

func setupTwin(t *testing.T) (*twin.Server, *testutil.TwinClient, *testutil.AdminClient) {
	t.Helper()
	srv, server := testutil.StartTwin(t)
	tc := testutil.NewTwinClient(t, server)
	ac := testutil.NewAdminClient(testutil.NewTwinClient(t, server))
	return srv, tc, ac
}

// seedAda creates the user most tests sign in as.
func seedAda(ac *testutil.AdminClient, extra map[string]any) testutil.SeededUser {
	seed := map[string]any{
		"first_name":      "Ada",
		"last_name":       "Lovelace",
		"email_addresses": []string{"ada@example.com"},
		"password":        testPassword,
	}
	for k, v := range extra {
		seed[k] = v
	}
	return ac.SeedUser(seed)
}

// errorEnvelope is the decoded body of a failed request.
type errorEnvelope struct {
	Errors []struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		LongMessage string         `json:"long_message"`
		Meta        map[string]any `json:"meta"`
	} `json:"errors"`
	Meta *struct {
		Client map[string]any `json:"client"`
	} `json:"meta"`
}

func decodeError(t *testing.T, resp *testutil.Response) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	resp.JSON(&env)
	if len(env.Errors) == 0 {
		t.Fatalf("expected errors, got: %s", string(resp.Body))
	}
	return env
}

func clientOf(t *testing.T, resp *testutil.Response) map[string]any {
	t.Helper()
	c, ok := resp.JSONMap()["client"].(map[string]any)
	if !ok {
		t.Fatalf("expected piggybacked client, got: %s", string(resp.Body))
	}
	return c
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

// --- Environment Tests ---

func TestGetEnvironment(t *testing.T) {
	_, tc, _ := setupTwin(t)

	resp := tc.Get("/v1/environment").AssertStatus(http.StatusOK)
	m := resp.JSONMap()
	if m["object"] != "environment" {
		t.Errorf("expected object=environment, got %v", m["object"])
	}
	if _, wrapped := m["response"]; wrapped {
		t.Error("expected the environment to be returned bare")
	}

	display := obj(m, "display_config")
	if display["preferred_sign_in_strategy"] != "password" {
		t.Errorf("expected password strategy, got %v", display["preferred_sign_in_strategy"])
	}
	if display["support_email"] != "support@clerkflow.dev" {
		t.Errorf("unexpected support_email %v", display["support_email"])
	}
	social := obj(obj(m, "user_settings"), "social")
	if obj(social, "oauth_google")["enabled"] != true {
		t.Errorf("expected oauth_google enabled, got %v", social)
	}
}

// --- Client Tests ---

func TestGetClientCreatesAndKeepsClient(t *testing.T) {
	_, tc, _ := setupTwin(t)

	first := tc.Get("/v1/client").AssertStatus(http.StatusOK).Resource()
	id := str(first, "id")
	if id == "" || first["object"] != "client" {
		t.Fatalf("unexpected client %v", first)
	}
	if got := tc.Cookie(api.DevBrowserCookie); got != id {
		t.Errorf("expected cookie %s, got %q", id, got)
	}

	second := tc.Get("/v1/client").AssertStatus(http.StatusOK).Resource()
	if str(second, "id") != id {
		t.Errorf("expected same client, got %v", second["id"])
	}
	if sessions, _ := second["sessions"].([]any); len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestCreateClientStartsFresh(t *testing.T) {
	_, tc, _ := setupTwin(t)

	before := str(tc.Get("/v1/client").Resource(), "id")
	after := str(tc.Post("/v1/client", nil).AssertStatus(http.StatusOK).Resource(), "id")
	if before == after {
		t.Error("expected a new client id")
	}
	if tc.Cookie(api.DevBrowserCookie) != after {
		t.Error("expected the cookie to follow the new client")
	}
}

func TestDestroyClientEndsSessions(t *testing.T) {
	srv, tc, ac := setupTwin(t)
	seedAda(ac, nil)

	si := tc.Post("/v1/client/sign_ins", map[string]any{
		"identifier": "ada@example.com",
		"password":   testPassword,
	}).AssertStatus(http.StatusOK).Resource()
	sessID := str(si, "created_session_id")

	resp := tc.Delete("/v1/client").AssertStatus(http.StatusOK)
	if c := resp.JSONMap()["client"]; c != nil {
		t.Errorf("expected client=null, got %v", c)
	}
	sess, _ := srv.Store.Sessions.Get(sessID)
	if sess.Status != "ended" {
		t.Errorf("expected ended session, got %q", sess.Status)
	}
	if tc.Cookie(api.DevBrowserCookie) != "" {
		t.Error("expected the client cookie to be cleared")
	}

	tc.Delete("/v1/client").AssertStatus(http.StatusNotFound)
}

// --- Session Tests ---

func signInAda(t *testing.T, tc *testutil.TwinClient, ac *testutil.AdminClient) string {
	t.Helper()
	seedAda(ac, nil)
	si := tc.Post("/v1/client/sign_ins", map[string]any{
		"identifier": "ada@example.com",
		"password":   testPassword,
	}).AssertStatus(http.StatusOK).Resource()
	id := str(si, "created_session_id")
	if id == "" {
		t.Fatalf("expected a session, got %v", si)
	}
	return id
}

func TestSessionTokenVerifiesAgainstJWKS(t *testing.T) {
	srv, tc, ac := setupTwin(t)
	sessID := signInAda(t, tc, ac)

	resp := tc.Post(testutil.Path("/v1/client/sessions/%s/tokens", sessID), nil).AssertStatus(http.StatusOK)
	m := resp.JSONMap()
	if m["object"] != "token" {
		t.Fatalf("expected a bare token, got %v", m)
	}
	claims, err := srv.JWT.Verify(str(m, "jwt"), srv.Store.Clock.Now())
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims["sid"] != sessID {
		t.Errorf("expected sid=%s, got %v", sessID, claims["sid"])
	}
	if claims["iss"] != api.DefaultIssuer {
		t.Errorf("unexpected issuer %v", claims["iss"])
	}
	if tc.Cookie("__session") != str(m, "jwt") {
		t.Error("expected the session cookie to carry the fresh token")
	}

	keys, _ := tc.Get("/.well-known/jwks.json").AssertStatus(http.StatusOK).JSONMap()["keys"].([]any)
	if len(keys) != 1 {
		t.Errorf("expected one signing key, got %d", len(keys))
	}
}

func TestSessionTokenExpiresWithClock(t *testing.T) {
	srv, tc, ac := setupTwin(t)
	sessID := signInAda(t, tc, ac)

	jwt := str(tc.Post(testutil.Path("/v1/client/sessions/%s/tokens", sessID), nil).JSONMap(), "jwt")
	if _, err := srv.JWT.Verify(jwt, srv.Store.Clock.Now().Add(api.SessionTokenTTL+time.Second)); err == nil {
		t.Error("expected the token to be expired after its lifetime")
	}
}

func TestTouchAndEndSession(t *testing.T) {
	_, tc, ac := setupTwin(t)
	sessID := signInAda(t, tc, ac)

	touched := tc.Post(testutil.Path("/v1/client/sessions/%s/touch", sessID), nil).AssertStatus(http.StatusOK)
	sess := touched.Resource()
	if sess["status"] != "active" || obj(sess, "last_active_token")["jwt"] == nil {
		t.Errorf("unexpected touched session %v", sess)
	}
	if pud := obj(sess, "public_user_data"); pud["identifier"] != "ada@example.com" || pud["first_name"] != "Ada" {
		t.Errorf("unexpected public_user_data %v", pud)
	}
	if str(clientOf(t, touched), "last_active_session_id") != sessID {
		t.Error("expected the touched session to be last active")
	}

	ended := tc.Post(testutil.Path("/v1/client/sessions/%s/end", sessID), nil).AssertStatus(http.StatusOK)
	if ended.Resource()["status"] != "ended" {
		t.Errorf("expected ended, got %v", ended.Resource()["status"])
	}
	if str(clientOf(t, ended), "last_active_session_id") != "" {
		t.Error("expected no active session after ending it")
	}

	resp := tc.Post(testutil.Path("/v1/client/sessions/%s/tokens", sessID), nil).AssertStatus(http.StatusUnauthorized)
	if code := decodeError(t, resp).Errors[0].Code; code != "authentication_invalid" {
		t.Errorf("expected authentication_invalid, got %s", code)
	}
}

func TestSessionOfAnotherClientIsNotFound(t *testing.T) {
	_, tc, ac := setupTwin(t)
	sessID := signInAda(t, tc, ac)

	other := testutil.NewTwinClientURL(t, tc.BaseURL)
	other.Get(testutil.Path("/v1/client/sessions/%s", sessID)).AssertStatus(http.StatusNotFound)
}

func TestSessionsExpireWithClock(t *testing.T) {
	_, tc, ac := setupTwin(t)
	sessID := signInAda(t, tc, ac)

	ac.AdvanceTime("169h").AssertStatus(http.StatusOK)

	c := tc.Get("/v1/client").AssertStatus(http.StatusOK).Resource()
	if sessions, _ := c["sessions"].([]any); len(sessions) != 0 {
		t.Errorf("expected expired sessions to be hidden, got %d", len(sessions))
	}
	got := tc.Get(testutil.Path("/v1/client/sessions/%s", sessID)).AssertStatus(http.StatusOK).Resource()
	if got["status"] != "expired" {
		t.Errorf("expected expired, got %v", got["status"])
	}
}

// --- Admin Tests ---

func TestGenerateJWT(t *testing.T) {
	srv, _, ac := setupTwin(t)

	resp := ac.Post("/admin/jwt/generate", map[string]any{"user_id": "user_1", "session_id": "sess_1"}).
		AssertStatus(http.StatusOK)
	claims, err := srv.JWT.Verify(str(resp.JSONMap(), "token"), srv.Store.Clock.Now())
	if err != nil {
		t.Fatalf("generated token did not verify: %v", err)
	}
	if claims["sub"] != "user_1" {
		t.Errorf("expected sub=user_1, got %v", claims["sub"])
	}
}

func TestFaultInjectionUsesErrorEnvelope(t *testing.T) {
	_, tc, ac := setupTwin(t)

	ac.InjectFault("/v1/client", map[string]any{"status_code": 503, "rate": 1.0}).AssertStatus(http.StatusOK)
	resp := tc.Get("/v1/client").AssertStatus(http.StatusServiceUnavailable)
	decodeError(t, resp)

	ac.RemoveFault("/v1/client").AssertStatus(http.StatusOK)
	tc.Get("/v1/client").AssertStatus(http.StatusOK)
}
