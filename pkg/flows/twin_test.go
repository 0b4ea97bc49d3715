package flows_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/clerkflow/internal/testutil"
	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
	"github.com/wondertwin-ai/clerkflow/pkg/flows"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

const testPassword = "correct-horse-battery"

type routes struct {
	mu   sync.Mutex
	seen []string
}

func (r *routes) Navigate(_ context.Context, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, to)
	return nil
}

func (r *routes) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type harness struct {
	core   *resources.Core
	nav    *routes
	cfg    flows.Config
	admin  *testutil.AdminClient
	server string
}

// newHarness starts a twin with Ada seeded and points a fresh Core at it.
func newHarness(t *testing.T) *harness {
	t.Helper()
	_, server := testutil.StartTwin(t)
	admin := testutil.NewAdminClient(testutil.NewTwinClient(t, server))
	admin.SeedUser(map[string]any{
		"first_name":      "Ada",
		"email_addresses": []string{"ada@example.com"},
		"password":        testPassword,
	})

	fc, err := fapi.New(server.URL)
	require.NoError(t, err)
	core := resources.NewCore(fc, resources.WithPollInterval(10*time.Millisecond))
	nav := &routes{}
	return &harness{
		core: core,
		nav:  nav,
		cfg: flows.Config{
			Core:                 core,
			Navigator:            nav,
			SupportEmail:         "help@example.com",
			MagicLinkRedirectURL: "http://app.test/verified",
		},
		admin:  admin,
		server: server.URL,
	}
}

func factorFor(list []resources.Factor, strategy resources.Strategy) resources.Factor {
	for _, f := range list {
		if f.Strategy() == strategy {
			return f
		}
	}
	return nil
}

func TestTwinSignInWithPassword(t *testing.T) {
	h := newHarness(t)
	flow := flows.NewSignInFlow(h.cfg)

	require.NoError(t, flow.Start(context.Background(), "ada@example.com", testPassword))

	si := flow.SignIn()
	assert.Equal(t, resources.SignInComplete, si.Status)
	require.NotEmpty(t, si.CreatedSessionID)
	assert.Equal(t, si.CreatedSessionID, h.core.Client().LastActiveSessionID)
	require.NotNil(t, h.core.ActiveSession())
	assert.Equal(t, "Ada", si.Salutation())
	assert.Empty(t, h.nav.list())
}

func TestTwinWrongPasswordFallsBackToFactorOne(t *testing.T) {
	h := newHarness(t)
	flow := flows.NewSignInFlow(h.cfg)

	require.NoError(t, flow.Start(context.Background(), "ada@example.com", "not-the-password"))
	assert.Equal(t, []string{flows.RouteFactorOne}, h.nav.list())
	assert.Equal(t, resources.SignInNeedsFirstFactor, flow.SignIn().Status)
	assert.Empty(t, h.core.Client().LastActiveSessionID)
}

func TestTwinSignInWithEmailCode(t *testing.T) {
	h := newHarness(t)
	flow := flows.NewSignInFlow(h.cfg)
	ctx := context.Background()

	require.NoError(t, flow.Start(ctx, "ada@example.com", ""))
	code := factorFor(flow.SignIn().SupportedFirstFactors, resources.StrategyEmailCode)
	require.NotNil(t, code, "email_code should be offered")

	require.NoError(t, flow.PrepareFirstFactor(ctx, code))
	require.NoError(t, flow.PrepareFirstFactor(ctx, code))
	msgs := h.admin.Outbox("ada@example.com")
	require.Len(t, msgs, 1, "preparing the same factor twice sends one code")

	err := flow.AttemptFirstFactor(ctx, code, "000000")
	_, isForm := flows.AsFormError(err)
	require.True(t, isForm, "expected a form error, got %v", err)

	require.NoError(t, flow.AttemptFirstFactor(ctx, code, msgs[0].Code))
	assert.Equal(t, flow.SignIn().CreatedSessionID, h.core.Client().LastActiveSessionID)
}

func TestTwinMagicLinkFromAnotherDevice(t *testing.T) {
	h := newHarness(t)
	flow := flows.NewSignInFlow(h.cfg)
	ctx := context.Background()

	require.NoError(t, flow.Start(ctx, "ada@example.com", ""))
	link, ok := factorFor(flow.SignIn().SupportedFirstFactors, resources.StrategyEmailLink).(resources.EmailLinkFactor)
	require.True(t, ok, "email_link should be offered")

	done := make(chan error, 1)
	go func() { done <- flow.StartFirstFactorMagicLink(ctx, link) }()

	var msg testutil.Message
	require.Eventually(t, func() bool {
		msgs := h.admin.Outbox("ada@example.com")
		if len(msgs) == 0 {
			return false
		}
		msg = msgs[len(msgs)-1]
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, msg.Link)

	phone := testutil.NewTwinClientURL(t, h.server)
	phone.Open(msg.Link)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		flow.CancelMagicLink()
		t.Fatal("magic link was not picked up")
	}

	si := flow.SignIn()
	assert.Equal(t, resources.SignInComplete, si.Status)
	assert.False(t, si.FirstFactorVerification.VerifiedFromTheSameClient(h.core.Client().ID()))
	assert.Equal(t, si.CreatedSessionID, h.core.Client().LastActiveSessionID)
}

func TestTwinSignUpWithEmailCode(t *testing.T) {
	h := newHarness(t)
	var afterSignUp int
	h.cfg.AfterSignUp = func(context.Context) error {
		afterSignUp++
		return nil
	}
	flow := flows.NewSignUpFlow(h.cfg)
	ctx := context.Background()

	require.NoError(t, flow.Start(ctx, flows.SignUpFields{
		FirstName:    "Grace",
		EmailAddress: "grace@example.com",
		Password:     testPassword,
	}))
	assert.Equal(t, []string{flows.RouteVerifyEmailAddress}, h.nav.list())

	require.NoError(t, flow.SendEmailCode(ctx))
	code := h.admin.LatestMessage("grace@example.com").Code
	require.NoError(t, flow.VerifyEmailCode(ctx, code))

	su := flow.SignUp()
	assert.Equal(t, resources.SignUpComplete, su.Status)
	assert.NotEmpty(t, su.CreatedUserID)
	assert.Equal(t, su.CreatedSessionID, h.core.Client().LastActiveSessionID)
	assert.Equal(t, 1, afterSignUp)
}

func TestTwinSignUpIdentifierTaken(t *testing.T) {
	h := newHarness(t)
	flow := flows.NewSignUpFlow(h.cfg)

	err := flow.Start(context.Background(), flows.SignUpFields{EmailAddress: "ada@example.com", Password: testPassword})
	fe, isForm := flows.AsFormError(err)
	require.True(t, isForm, "expected a form error, got %v", err)
	assert.NotEmpty(t, fe.Fields["email_address"])
}
