package flows

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/wondertwin-ai/clerkflow/pkg/poller"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// SignUpFields are the values collected by the sign-up form. The json names
// double as field names in FormError.
type SignUpFields struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// Validate checks the fields that were filled in. Which fields are required
// is the server's decision.
func (s SignUpFields) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.EmailAddress, is.Email),
		validation.Field(&s.PhoneNumber, validation.By(func(v any) error {
			if str, _ := v.(string); str != "" && !looksLikePhone(str) {
				return errors.New("must be a valid phone number")
			}
			return nil
		})),
		validation.Field(&s.Username, validation.Length(4, 64)),
		validation.Field(&s.Password, validation.Length(8, 72)),
	)
}

// SignUpFlow drives one sign-up attempt to an active session.
type SignUpFlow struct {
	cfg     Config
	attempt *resources.SignUp

	invitationToken string
	ticket          string
	magicLink       linkCanceller
}

// NewSignUpFlow creates a flow on the client's current sign-up attempt.
func NewSignUpFlow(cfg Config) *SignUpFlow {
	return &SignUpFlow{cfg: cfg.withDefaults()}
}

// SignUp returns the attempt the flow works on.
func (f *SignUpFlow) SignUp() *resources.SignUp {
	if f.attempt == nil {
		f.attempt = f.cfg.Core.SignUp()
	}
	return f.attempt
}

// UseInvitationToken sets the invitation token StartWithToken submits.
func (f *SignUpFlow) UseInvitationToken(token string) { f.invitationToken = token }

// UseTicket sets the organization ticket StartWithToken submits.
func (f *SignUpFlow) UseTicket(ticket string) { f.ticket = ticket }

// Tokens returns the pending invitation token and ticket.
func (f *SignUpFlow) Tokens() (invitationToken, ticket string) {
	return f.invitationToken, f.ticket
}

// Start creates the attempt from the form fields.
func (f *SignUpFlow) Start(ctx context.Context, fields SignUpFields) error {
	if err := fields.Validate(); err != nil {
		return NewFormError(err)
	}
	phone := fields.PhoneNumber
	if phone != "" {
		if e164, ok := toE164(phone, f.cfg.DefaultRegion); ok {
			phone = e164
		}
	}

	su := f.SignUp()
	if _, err := su.Create(ctx, resources.SignUpParams{
		FirstName:    fields.FirstName,
		LastName:     fields.LastName,
		EmailAddress: fields.EmailAddress,
		PhoneNumber:  phone,
		Username:     fields.Username,
		Password:     fields.Password,
	}); err != nil {
		return f.surface(ctx, err, "first_name", "last_name", "email_address", "phone_number", "username", "password")
	}
	return f.complete(ctx, su)
}

// StartWithToken creates the attempt from the pending invitation token or
// ticket. Both are cleared when the server rejects them so a retry does not
// submit a consumed token.
func (f *SignUpFlow) StartWithToken(ctx context.Context) error {
	var params resources.SignUpParams
	switch {
	case f.invitationToken != "":
		params.InvitationToken = f.invitationToken
	case f.ticket != "":
		params.Strategy = resources.StrategyTicket
		params.Ticket = f.ticket
	default:
		return nil
	}

	su := f.SignUp()
	if _, err := su.Create(ctx, params); err != nil {
		f.invitationToken, f.ticket = "", ""
		return f.surface(ctx, err)
	}
	return f.complete(ctx, su)
}

// Update adds missing fields to the attempt.
func (f *SignUpFlow) Update(ctx context.Context, fields SignUpFields) error {
	if err := fields.Validate(); err != nil {
		return NewFormError(err)
	}
	su := f.SignUp()
	if _, err := su.Update(ctx, resources.SignUpParams{
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		Username:  fields.Username,
		Password:  fields.Password,
	}); err != nil {
		return f.surface(ctx, err, "first_name", "last_name", "username", "password")
	}
	return f.complete(ctx, su)
}

// SendEmailCode sends a verification code to the attempt's email address.
func (f *SignUpFlow) SendEmailCode(ctx context.Context) error {
	if _, err := f.SignUp().PrepareEmailAddressVerification(ctx); err != nil {
		return f.surface(ctx, err)
	}
	return nil
}

// VerifyEmailCode submits the emailed code.
func (f *SignUpFlow) VerifyEmailCode(ctx context.Context, code string) error {
	su := f.SignUp()
	if _, err := su.AttemptEmailAddressVerification(ctx, code); err != nil {
		return f.surface(ctx, err, "code")
	}
	return f.complete(ctx, su)
}

// SendPhoneCode sends a verification code to the attempt's phone number.
func (f *SignUpFlow) SendPhoneCode(ctx context.Context) error {
	if _, err := f.SignUp().PreparePhoneNumberVerification(ctx); err != nil {
		return f.surface(ctx, err)
	}
	return nil
}

// VerifyPhoneCode submits the texted code.
func (f *SignUpFlow) VerifyPhoneCode(ctx context.Context, code string) error {
	su := f.SignUp()
	if _, err := su.AttemptPhoneNumberVerification(ctx, code); err != nil {
		return f.surface(ctx, err, "code")
	}
	return f.complete(ctx, su)
}

// StartEmailMagicLink emails a verification link and blocks until it is
// opened, expires or CancelMagicLink is called.
func (f *SignUpFlow) StartEmailMagicLink(ctx context.Context) error {
	flow := f.SignUp().CreateMagicLinkFlow()
	if !f.magicLink.begin(flow.Cancel) {
		return poller.ErrStopped
	}
	defer f.magicLink.end()

	su, err := flow.Start(ctx, resources.StartMagicLinkParams{RedirectURL: f.cfg.MagicLinkRedirectURL})
	if err != nil {
		if errors.Is(err, poller.ErrStopped) {
			return err
		}
		return f.surface(ctx, err)
	}
	switch su.Verifications.EmailAddress.Status {
	case resources.VerificationExpired:
		return ErrVerificationExpired
	case resources.VerificationFailed:
		return ErrVerificationFailed
	}
	return f.complete(ctx, su)
}

// CancelMagicLink stops a running StartEmailMagicLink. Called while none is
// running, it stops the next one before the link is sent.
func (f *SignUpFlow) CancelMagicLink() {
	f.magicLink.cancel()
}

// HandleOAuthError surfaces a provider rejection recorded on the external
// account verification and resets the attempt.
func (f *SignUpFlow) HandleOAuthError(ctx context.Context) error {
	su := f.SignUp()
	verr := su.Verifications.ExternalAccount.Error
	if verr == nil {
		return nil
	}
	if verr.Code != resources.ErrCodeNotAllowedToSignUp && verr.Code != resources.ErrCodeOAuthAccessDenied {
		return nil
	}
	if _, err := su.Create(ctx, resources.SignUpParams{}); err != nil {
		f.cfg.Logger.Warn("resetting sign up after oauth error", "error", err)
	}
	return &FormError{Global: verr.LongMessage, Fields: map[string]string{}}
}

// complete routes after any successful call: activate the session when the
// attempt is done, otherwise go verify whichever identifier still needs it.
func (f *SignUpFlow) complete(ctx context.Context, su *resources.SignUp) error {
	switch {
	case su.Status == resources.SignUpComplete:
		f.cfg.Logger.Info("sign up complete", "sign_up_id", su.ID(), "session_id", su.CreatedSessionID)
		return f.cfg.Sessions.SetSession(ctx, su.CreatedSessionID, f.cfg.AfterSignUp)
	case !su.Status.Known():
		f.cfg.Logger.Warn("unsupported sign up status", "status", string(su.Status))
		f.cfg.Alerter.Alert(unsupportedMessage(string(su.Status), f.cfg.SupportEmail))
		return nil
	case su.EmailAddress != "" && su.Verifications.EmailAddress.Status != resources.VerificationVerified:
		return f.cfg.Navigator.Navigate(ctx, RouteVerifyEmailAddress)
	case su.PhoneNumber != "" && su.Verifications.PhoneNumber.Status != resources.VerificationVerified:
		return f.cfg.Navigator.Navigate(ctx, RouteVerifyPhoneNumber)
	}
	return nil
}

// surface turns err into a FormError. Errors that rule out this attempt, such
// as not_allowed_to_sign_up, also replace it with a blank one.
func (f *SignUpFlow) surface(ctx context.Context, err error, fields ...string) error {
	rec, apiErr := Classify(err)
	switch rec {
	case Fatal:
		return err
	case SurfaceAndReset:
		f.cfg.Logger.Debug("sign up error", "recovery", rec.String(), "code", apiErr.Code)
		if _, rerr := f.SignUp().Create(ctx, resources.SignUpParams{}); rerr != nil {
			f.cfg.Logger.Warn("resetting sign up", "error", rerr)
		}
	}
	return NewFormError(err, fields...)
}
