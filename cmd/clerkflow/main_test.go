package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/clerkflow/internal/testutil"
	"github.com/wondertwin-ai/clerkflow/pkg/flows"
)

func TestParseArgs(t *testing.T) {
	opts, cmd, args := parseArgs([]string{"--verbose", "--config", "/tmp/c.yaml", "signin", "ada@example.com", "--frontend-api", "http://fapi.test"})
	assert.Equal(t, "signin", cmd)
	assert.Equal(t, []string{"ada@example.com"}, args)
	assert.Equal(t, options{configPath: "/tmp/c.yaml", frontendAPI: "http://fapi.test", verbose: true}, opts)

	_, cmd, args = parseArgs(nil)
	assert.Empty(t, cmd)
	assert.Empty(t, args)
}

// testApp builds an app whose config lives in a temp dir and whose terminal
// reads input.
func testApp(t *testing.T, dir, frontendAPI, input string) (*app, *bytes.Buffer) {
	t.Helper()
	t.Setenv("CLERKFLOW_FRONTEND_API", "")
	out := &bytes.Buffer{}
	a, err := newApp(options{
		configPath:  filepath.Join(dir, "config.yaml"),
		frontendAPI: frontendAPI,
	}, strings.NewReader(input), out, &bytes.Buffer{})
	require.NoError(t, err)
	return a, out
}

func TestCookiesSurviveBetweenRuns(t *testing.T) {
	dir := t.TempDir()
	base, err := url.Parse("http://fapi.test")
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: "__client", Value: "abc", Path: "/"}})

	c := &conn{jar: jar, base: base, path: filepath.Join(dir, cookieFile)}
	require.NoError(t, c.save())

	info, err := os.Stat(c.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	fresh, err := cookiejar.New(nil)
	require.NoError(t, err)
	require.NoError(t, loadCookies(c.path, fresh, base))
	got := fresh.Cookies(base)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Value)

	other, err := url.Parse("http://other.test")
	require.NoError(t, err)
	fresh, err = cookiejar.New(nil)
	require.NoError(t, err)
	require.NoError(t, loadCookies(c.path, fresh, other))
	assert.Empty(t, fresh.Cookies(other))
}

func TestLoadCookiesMissingFile(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, _ := url.Parse("http://fapi.test")
	assert.NoError(t, loadCookies(filepath.Join(t.TempDir(), cookieFile), jar, base))
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	a, out := testApp(t, dir, "", "")

	require.NoError(t, a.cmdConfig([]string{"set", "frontend_api", "https://clerk.example.com"}))
	require.NoError(t, a.cmdConfig([]string{"set", "poll_interval", "250ms"}))
	out.Reset()

	require.NoError(t, a.cmdConfig([]string{"get", "poll_interval"}))
	assert.Equal(t, "250ms\n", out.String())

	out.Reset()
	require.NoError(t, a.cmdConfig(nil))
	assert.Contains(t, out.String(), "frontend_api: https://clerk.example.com\n")

	err := a.cmdConfig([]string{"set", "preferred_sign_in_strategy", "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preferred_sign_in_strategy")

	assert.Error(t, a.cmdConfig([]string{"get", "colour"}))
	assert.Error(t, a.cmdConfig([]string{"set", "frontend_api"}))

	out.Reset()
	require.NoError(t, a.cmdConfig([]string{"path"}))
	assert.Equal(t, filepath.Join(dir, "config.yaml")+"\n", out.String())
}

func TestConfigCommandIgnoresOverrides(t *testing.T) {
	dir := t.TempDir()
	a, _ := testApp(t, dir, "http://override.test", "")
	require.NoError(t, a.cmdConfig([]string{"set", "support_email", "help@example.com"}))

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "override.test")
	assert.Contains(t, string(data), "help@example.com")
}

func TestConnectRequiresFrontendAPI(t *testing.T) {
	a, _ := testApp(t, t.TempDir(), "", "")
	_, err := a.connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontend_api")
}

func TestUnknownCommand(t *testing.T) {
	a, _ := testApp(t, t.TempDir(), "", "")
	assert.Error(t, a.run(context.Background(), "dance", nil))
}

func TestSignInWhoamiSignOut(t *testing.T) {
	_, server := testutil.StartTwin(t)
	admin := testutil.NewAdminClient(testutil.NewTwinClient(t, server))
	admin.SeedUser(map[string]any{
		"first_name":      "Ada",
		"email_addresses": []string{"ada@example.com"},
		"password":        "correct-horse-battery",
	})
	dir := t.TempDir()
	ctx := context.Background()

	setup, _ := testApp(t, dir, "", "")
	require.NoError(t, setup.cmdConfig([]string{"set", "preferred_sign_in_strategy", "password"}))

	// Enter accepts the first listed method, the password.
	a, out := testApp(t, dir, server.URL, "\ncorrect-horse-battery\n")
	require.NoError(t, a.run(ctx, "signin", []string{"ada@example.com"}))
	assert.Contains(t, out.String(), "Signing in as Ada")
	assert.Contains(t, out.String(), "Signed in as ada@example.com")

	a, out = testApp(t, dir, server.URL, "")
	require.NoError(t, a.run(ctx, "whoami", nil))
	assert.Contains(t, out.String(), "ada@example.com")
	assert.Contains(t, out.String(), "Token expires")

	a, out = testApp(t, dir, server.URL, "")
	require.NoError(t, a.run(ctx, "signout", nil))
	assert.Equal(t, "Signed out.\n", out.String())

	a, out = testApp(t, dir, server.URL, "")
	require.NoError(t, a.run(ctx, "whoami", nil))
	assert.Equal(t, "Not signed in.\n", out.String())
}

func TestSignInWrongPasswordThenRight(t *testing.T) {
	_, server := testutil.StartTwin(t)
	admin := testutil.NewAdminClient(testutil.NewTwinClient(t, server))
	admin.SeedUser(map[string]any{
		"email_addresses": []string{"ada@example.com"},
		"password":        "correct-horse-battery",
	})
	dir := t.TempDir()

	setup, _ := testApp(t, dir, "", "")
	require.NoError(t, setup.cmdConfig([]string{"set", "preferred_sign_in_strategy", "password"}))

	a, out := testApp(t, dir, server.URL, "\nwrong-password\ncorrect-horse-battery\n")
	require.NoError(t, a.run(context.Background(), "signin", []string{"ada@example.com"}))
	assert.Contains(t, out.String(), "Signed in as ada@example.com")
}

func TestSignUpWithEmailCode(t *testing.T) {
	_, server := testutil.StartTwin(t)
	admin := testutil.NewAdminClient(testutil.NewTwinClient(t, server))
	dir := t.TempDir()

	// The code is not known until the twin sends it, so the sign-up runs
	// through the pieces the command uses and reads it from the outbox.
	a, out := testApp(t, dir, server.URL, "")
	c, err := a.connect()
	require.NoError(t, err)
	ctx := context.Background()
	steps := &stepper{}
	flow := flows.NewSignUpFlow(a.flowConfig(c, nil, steps))

	require.NoError(t, flow.Start(ctx, flows.SignUpFields{
		EmailAddress: "grace@example.com",
		Password:     "analytical-engine",
	}))
	require.Equal(t, flows.RouteVerifyEmailAddress, steps.take())
	require.NoError(t, flow.SendEmailCode(ctx))

	code := admin.LatestMessage("grace@example.com").Code
	a.term = newPrompter(strings.NewReader(code+"\n"), out)
	require.NoError(t, a.attemptLoop(ctx, "Code: ", flow.VerifyEmailCode))
	require.NoError(t, a.reportSession(c))
	assert.Contains(t, out.String(), "Signed in as grace@example.com")
}

func TestExplain(t *testing.T) {
	assert.NoError(t, explain(nil))
	assert.EqualError(t, explain(context.Canceled), "cancelled")
}

func TestCheckAgainstTwin(t *testing.T) {
	_, server := testutil.StartTwin(t)
	a, out := testApp(t, t.TempDir(), server.URL, "")
	require.NoError(t, a.run(context.Background(), "check", nil))
	assert.Contains(t, out.String(), "Results: 5 passed, 0 failed, 5 total")
	assert.NotContains(t, out.String(), "FAIL")
}
