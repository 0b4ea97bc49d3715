package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/wondertwin-ai/clerkflow/pkg/factors"
	"github.com/wondertwin-ai/clerkflow/pkg/poller"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// SignInFlow drives one sign-in attempt from the identifier step to an active
// session. It is not safe for concurrent use, except CancelMagicLink.
type SignInFlow struct {
	cfg     Config
	attempt *resources.SignIn

	lastFirst  resources.Factor
	lastSecond resources.Factor
	magicLink  linkCanceller
}

// NewSignInFlow creates a flow on the client's current sign-in attempt.
func NewSignInFlow(cfg Config) *SignInFlow {
	return &SignInFlow{cfg: cfg.withDefaults()}
}

// SignIn returns the attempt the flow works on.
func (f *SignInFlow) SignIn() *resources.SignIn {
	if f.attempt == nil {
		f.attempt = f.cfg.Core.SignIn()
	}
	return f.attempt
}

// Start submits the identifier, and the password if one was typed. A rejected
// password is dropped silently and the attempt continues without it; an
// identifier that is already signed in switches to that session.
func (f *SignInFlow) Start(ctx context.Context, identifier, password string) error {
	identifier = normalizeIdentifier(identifier, f.cfg.DefaultRegion)
	params := resources.SignInParams{Identifier: identifier}
	if password != "" {
		params.Password = password
		params.Strategy = resources.StrategyPassword
	}

	si := f.SignIn()
	if _, err := si.Create(ctx, params); err != nil {
		return f.recoverFrom(ctx, err, password != "", func(ctx context.Context) error {
			f.cfg.Logger.Debug("retrying sign in without password", "identifier", identifier)
			return f.Start(ctx, identifier, "")
		})
	}
	f.lastFirst, f.lastSecond = nil, nil
	return f.route(ctx, si)
}

// StartWithTicket signs in with an invitation ticket.
func (f *SignInFlow) StartWithTicket(ctx context.Context, ticket string) error {
	si := f.SignIn()
	if _, err := si.Create(ctx, resources.SignInParams{Strategy: resources.StrategyTicket, Ticket: ticket}); err != nil {
		return f.recoverFrom(ctx, err, false, nil)
	}
	return f.route(ctx, si)
}

// StartWithRedirect begins an OAuth sign-in and returns the provider URL the
// user has to visit.
func (f *SignInFlow) StartWithRedirect(ctx context.Context, strategy resources.Strategy, redirectURL, actionCompleteRedirectURL string) (string, error) {
	if !strategy.IsOAuth() {
		return "", fmt.Errorf("flows: %s is not an oauth strategy", strategy)
	}
	si := f.SignIn()
	if _, err := si.Create(ctx, resources.SignInParams{
		Strategy:                  strategy,
		RedirectURL:               redirectURL,
		ActionCompleteRedirectURL: actionCompleteRedirectURL,
	}); err != nil {
		return "", f.recoverFrom(ctx, err, false, nil)
	}
	return si.FirstFactorVerification.ExternalVerificationRedirectURL, nil
}

// HandleOAuthError surfaces a provider rejection recorded on the first factor
// and resets the attempt so the error is not shown again.
func (f *SignInFlow) HandleOAuthError(ctx context.Context) error {
	si := f.SignIn()
	verr := si.FirstFactorVerification.Error
	if verr == nil {
		return nil
	}
	if verr.Code != resources.ErrCodeNotAllowedToSignUp && verr.Code != resources.ErrCodeOAuthAccessDenied {
		return nil
	}
	if _, err := si.Create(ctx, resources.SignInParams{}); err != nil {
		f.cfg.Logger.Warn("resetting sign in after oauth error", "error", err)
	}
	return &FormError{Global: verr.LongMessage, Fields: map[string]string{}}
}

// StartingFactor is the first factor the attempt should open with.
func (f *SignInFlow) StartingFactor() resources.Factor {
	si := f.SignIn()
	return factors.StartingFirstFactor(si.SupportedFirstFactors, si.Identifier, f.cfg.Preference)
}

// StartingSecondFactor is the second factor the attempt should open with.
func (f *SignInFlow) StartingSecondFactor() resources.Factor {
	return factors.StartingSecondFactor(f.SignIn().SupportedSecondFactors)
}

// AlternativeFactors lists the other first factors in display order.
func (f *SignInFlow) AlternativeFactors(current resources.Factor) []resources.Factor {
	return factors.Alternatives(f.SignIn().SupportedFirstFactors, current)
}

// PrepareFirstFactor sends the code or link for factor, unless it is the
// factor that was prepared last.
func (f *SignInFlow) PrepareFirstFactor(ctx context.Context, factor resources.Factor) error {
	if factor == nil {
		return ErrNoFactor
	}
	si := f.SignIn()
	if !factors.NeedsPrepare(factor) {
		return nil
	}
	if si.FirstFactorVerification.IsPrepared() && factors.Same(f.lastFirst, factor) {
		return nil
	}
	f.lastFirst = factor
	if _, err := si.PrepareFirstFactor(ctx, resources.PrepareFactorParams{
		Factor:      factor,
		RedirectURL: f.cfg.MagicLinkRedirectURL,
	}); err != nil {
		f.lastFirst = nil
		return f.surface(err)
	}
	return nil
}

// AttemptFirstFactor submits a code or password for factor.
func (f *SignInFlow) AttemptFirstFactor(ctx context.Context, factor resources.Factor, secret string) error {
	if factor == nil {
		return ErrNoFactor
	}
	params, field := attemptParams(factor, secret)
	si := f.SignIn()
	if _, err := si.AttemptFirstFactor(ctx, params); err != nil {
		return f.surface(err, field)
	}
	switch si.Status {
	case resources.SignInComplete:
		return f.activate(ctx, si)
	case resources.SignInNeedsSecondFactor:
		return f.cfg.Navigator.Navigate(ctx, RouteFactorTwo)
	default:
		f.unsupported(si.Status)
		return nil
	}
}

// PrepareSecondFactor sends the code for a second factor that needs one.
func (f *SignInFlow) PrepareSecondFactor(ctx context.Context, factor resources.Factor) error {
	if factor == nil {
		return ErrNoFactor
	}
	si := f.SignIn()
	if !factors.NeedsPrepare(factor) {
		return nil
	}
	if si.SecondFactorVerification.IsPrepared() && factors.Same(f.lastSecond, factor) {
		return nil
	}
	f.lastSecond = factor
	if _, err := si.PrepareSecondFactor(ctx, resources.PrepareFactorParams{Factor: factor}); err != nil {
		f.lastSecond = nil
		return f.surface(err)
	}
	return nil
}

// AttemptSecondFactor submits the second factor code.
func (f *SignInFlow) AttemptSecondFactor(ctx context.Context, factor resources.Factor, code string) error {
	if factor == nil {
		return ErrNoFactor
	}
	params, field := attemptParams(factor, code)
	si := f.SignIn()
	if _, err := si.AttemptSecondFactor(ctx, params); err != nil {
		return f.surface(err, field)
	}
	if si.Status == resources.SignInComplete {
		return f.activate(ctx, si)
	}
	f.unsupported(si.Status)
	return nil
}

// StartFirstFactorMagicLink emails a sign-in link and blocks until it is
// opened, expires or CancelMagicLink is called.
func (f *SignInFlow) StartFirstFactorMagicLink(ctx context.Context, factor resources.EmailLinkFactor) error {
	flow := f.SignIn().CreateMagicLinkFlow()
	if !f.magicLink.begin(flow.Cancel) {
		return poller.ErrStopped
	}
	defer f.magicLink.end()
	f.lastFirst = factor

	si, err := flow.Start(ctx, resources.StartMagicLinkParams{
		RedirectURL:    f.cfg.MagicLinkRedirectURL,
		EmailAddressID: factor.EmailAddressID,
	})
	if err != nil {
		if errors.Is(err, poller.ErrStopped) {
			return err
		}
		return f.surface(err)
	}

	switch si.FirstFactorVerification.Status {
	case resources.VerificationExpired:
		return ErrVerificationExpired
	case resources.VerificationFailed:
		return ErrVerificationFailed
	}
	switch si.Status {
	case resources.SignInComplete:
		return f.activate(ctx, si)
	case resources.SignInNeedsSecondFactor:
		return f.cfg.Navigator.Navigate(ctx, RouteFactorTwo)
	default:
		f.unsupported(si.Status)
		return nil
	}
}

// CancelMagicLink stops a running StartFirstFactorMagicLink. Called while
// none is running, it stops the next one before the link is sent.
func (f *SignInFlow) CancelMagicLink() {
	f.magicLink.cancel()
}

func (f *SignInFlow) route(ctx context.Context, si *resources.SignIn) error {
	switch si.Status {
	case resources.SignInNeedsFirstFactor:
		return f.cfg.Navigator.Navigate(ctx, RouteFactorOne)
	case resources.SignInNeedsSecondFactor:
		return f.cfg.Navigator.Navigate(ctx, RouteFactorTwo)
	case resources.SignInComplete:
		return f.activate(ctx, si)
	default:
		f.unsupported(si.Status)
		return nil
	}
}

func (f *SignInFlow) activate(ctx context.Context, si *resources.SignIn) error {
	f.cfg.Logger.Info("sign in complete", "sign_in_id", si.ID(), "session_id", si.CreatedSessionID)
	return f.cfg.Sessions.SetSession(ctx, si.CreatedSessionID, f.cfg.AfterSignIn)
}

// recoverFrom applies the recovery Classify picks for a failed sign-in creation.
// retry is only used when a password was part of the failed call.
func (f *SignInFlow) recoverFrom(ctx context.Context, err error, hadPassword bool, retry func(context.Context) error) error {
	rec, apiErr := Classify(err)
	f.cfg.Logger.Debug("sign in error", "recovery", rec.String(), "code", apiErr.Code)

	switch rec {
	case RetryWithoutPassword:
		if hadPassword && retry != nil {
			return retry(ctx)
		}
	case ActivateExistingSession:
		if apiErr.Meta.SessionID != "" {
			return f.cfg.Sessions.SetSession(ctx, apiErr.Meta.SessionID, f.cfg.AfterSignIn)
		}
	case SurfaceAndReset:
		if _, rerr := f.SignIn().Create(ctx, resources.SignInParams{}); rerr != nil {
			f.cfg.Logger.Warn("resetting sign in", "error", rerr)
		}
	case Fatal:
		return err
	}
	return NewFormError(err, "identifier", "password")
}

func (f *SignInFlow) surface(err error, fields ...string) error {
	if rec, _ := Classify(err); rec == Fatal {
		return err
	}
	return NewFormError(err, fields...)
}

func (f *SignInFlow) unsupported(status resources.SignInStatus) {
	f.cfg.Logger.Warn("unsupported sign in status", "status", string(status))
	f.cfg.Alerter.Alert(unsupportedMessage(string(status), f.cfg.SupportEmail))
}

func attemptParams(factor resources.Factor, secret string) (resources.AttemptFactorParams, string) {
	params := resources.AttemptFactorParams{Strategy: factor.Strategy()}
	switch factor.(type) {
	case resources.PasswordFactor:
		params.Password = secret
		return params, "password"
	case resources.Web3Factor:
		params.Signature = secret
		return params, "signature"
	default:
		params.Code = secret
		return params, "code"
	}
}
