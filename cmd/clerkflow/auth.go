package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/wondertwin-ai/clerkflow/pkg/factors"
	"github.com/wondertwin-ai/clerkflow/pkg/flows"
	"github.com/wondertwin-ai/clerkflow/pkg/poller"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// maxTries bounds how often a code or password is asked for.
const maxTries = 3

// maxSteps bounds the number of screens a single sign-in or sign-up walks.
const maxSteps = 8

var errNotSignedIn = errors.New("sign in did not complete")

func (a *app) flowConfig(c *conn, env *resources.Environment, nav flows.Navigator) flows.Config {
	redirect := a.cfg.AfterSignInURL
	if redirect == "" && env != nil {
		redirect = env.HomeURL
	}
	return flows.Config{
		Core:      c.core,
		Navigator: nav,
		Alerter: flows.AlerterFunc(func(msg string) {
			fmt.Fprintln(a.out, msg)
		}),
		SupportEmail:         a.supportEmail(env),
		Preference:           a.preference(env),
		DefaultRegion:        a.cfg.DefaultRegion,
		MagicLinkRedirectURL: redirect,
		Logger:               a.logger,
	}
}

// environment loads the instance environment. A failure is logged and
// treated as an instance with default settings.
func (a *app) environment(ctx context.Context, c *conn) *resources.Environment {
	env, err := c.core.LoadEnvironment(ctx)
	if err != nil {
		a.logger.Warn("environment unavailable", "error", err)
		return nil
	}
	return env
}

// stepper remembers the last step a flow navigated to.
type stepper struct {
	next string
}

func (s *stepper) Navigate(_ context.Context, to string) error {
	s.next = to
	return nil
}

func (s *stepper) take() string {
	to := s.next
	s.next = ""
	return to
}

func (a *app) cmdSignIn(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("signin", flag.ContinueOnError)
	fs.SetOutput(a.out)
	ticket := fs.String("ticket", "", "sign in with an invitation ticket")
	withPassword := fs.Bool("password", false, "ask for the password up front")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := a.connect()
	if err != nil {
		return err
	}
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	env := a.environment(ctx, c)
	steps := &stepper{}
	flow := flows.NewSignInFlow(a.flowConfig(c, env, steps))

	if *ticket != "" {
		err = flow.StartWithTicket(ctx, *ticket)
	} else {
		identifier := fs.Arg(0)
		if identifier == "" {
			if identifier, err = a.term.Line("Email, phone or username: "); err != nil {
				return err
			}
		}
		var password string
		if *withPassword {
			if password, err = a.term.Secret("Password: "); err != nil {
				return err
			}
		}
		err = flow.Start(ctx, identifier, password)
	}
	if err != nil {
		return explain(err)
	}

	for i := 0; i < maxSteps; i++ {
		switch steps.take() {
		case flows.RouteFactorOne:
			err = a.firstFactor(ctx, flow)
		case flows.RouteFactorTwo:
			err = a.secondFactor(ctx, flow)
		default:
			return a.reportSession(c)
		}
		if err != nil {
			return explain(err)
		}
	}
	return a.reportSession(c)
}

func (a *app) firstFactor(ctx context.Context, flow *flows.SignInFlow) error {
	si := flow.SignIn()
	fmt.Fprintf(a.out, "Signing in as %s\n", si.Salutation())

	factor := flow.StartingFactor()
	if factor == nil {
		return errors.New("this account has no first factor the terminal can use")
	}
	choices := []resources.Factor{factor}
	for _, f := range flow.AlternativeFactors(factor) {
		if factors.IsDisplayable(f) {
			choices = append(choices, f)
		}
	}
	factor, err := a.pick(choices)
	if err != nil {
		return err
	}

	if link, ok := factor.(resources.EmailLinkFactor); ok {
		fmt.Fprintf(a.out, "Sent a sign-in link to %s. Waiting for it to be opened (Ctrl-C to stop)...\n", link.SafeIdentifier)
		return flow.StartFirstFactorMagicLink(ctx, link)
	}
	if err := flow.PrepareFirstFactor(ctx, factor); err != nil {
		return err
	}
	return a.attemptLoop(ctx, secretLabel(factor), func(ctx context.Context, secret string) error {
		return flow.AttemptFirstFactor(ctx, factor, secret)
	})
}

func (a *app) secondFactor(ctx context.Context, flow *flows.SignInFlow) error {
	factor := flow.StartingSecondFactor()
	if factor == nil {
		return errors.New("a second factor is required but none is available")
	}
	choices := []resources.Factor{factor}
	for _, f := range flow.SignIn().SupportedSecondFactors {
		if !factors.Same(factor, f) {
			choices = append(choices, f)
		}
	}
	factor, err := a.pick(choices)
	if err != nil {
		return err
	}
	if err := flow.PrepareSecondFactor(ctx, factor); err != nil {
		return err
	}
	return a.attemptLoop(ctx, secretLabel(factor), func(ctx context.Context, secret string) error {
		return flow.AttemptSecondFactor(ctx, factor, secret)
	})
}

func (a *app) pick(choices []resources.Factor) (resources.Factor, error) {
	if len(choices) == 1 {
		return choices[0], nil
	}
	labels := make([]string, len(choices))
	for i, f := range choices {
		labels[i] = describe(f)
	}
	idx, err := a.term.Choose("Method [1]: ", labels)
	if err != nil {
		return nil, err
	}
	return choices[idx], nil
}

// attemptLoop asks for a secret until attempt accepts it. Form errors are
// shown and asked again; anything else ends the loop.
func (a *app) attemptLoop(ctx context.Context, label string, attempt func(context.Context, string) error) error {
	for i := 0; i < maxTries; i++ {
		secret, err := a.term.Secret(label)
		if err != nil {
			return err
		}
		err = attempt(ctx, secret)
		fe, isForm := flows.AsFormError(err)
		if !isForm {
			return err
		}
		fmt.Fprintln(a.out, fe.Error())
	}
	return errors.New("too many failed attempts")
}

func (a *app) reportSession(c *conn) error {
	cl := c.core.Client()
	sess := c.core.ActiveSession()
	if cl.LastActiveSessionID == "" || sess == nil {
		return errNotSignedIn
	}
	who := sess.PublicUserData.Identifier
	if who == "" {
		who = sess.PublicUserData.UserID
	}
	fmt.Fprintf(a.out, "Signed in as %s (session %s)\n", who, sess.ID())
	return nil
}

func describe(f resources.Factor) string {
	target := resources.SafeIdentifier(f)
	switch f.(type) {
	case resources.PasswordFactor:
		return "Password"
	case resources.EmailCodeFactor:
		return "Email code to " + target
	case resources.EmailLinkFactor:
		return "Email link to " + target
	case resources.PhoneCodeFactor:
		return "Text message code to " + target
	case resources.TOTPFactor:
		return "Authenticator app code"
	case resources.BackupCodeFactor:
		return "Backup code"
	}
	return string(f.Strategy())
}

func secretLabel(f resources.Factor) string {
	switch f.(type) {
	case resources.PasswordFactor:
		return "Password: "
	case resources.BackupCodeFactor:
		return "Backup code: "
	}
	return "Code: "
}

// explain turns flow errors into messages for the terminal.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, poller.ErrStopped), errors.Is(err, context.Canceled):
		return errors.New("cancelled")
	case errors.Is(err, poller.ErrMaxDuration):
		return errors.New("gave up waiting for the link; run the command again")
	case errors.Is(err, flows.ErrVerificationExpired):
		return errors.New("the link expired; run the command again")
	case errors.Is(err, flows.ErrVerificationFailed):
		return errors.New("the link was rejected")
	}
	if fe, ok := flows.AsFormError(err); ok {
		return errors.New(fe.Error())
	}
	return err
}

func (a *app) cmdSignUp(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	fs.SetOutput(a.out)
	var fields flows.SignUpFields
	fs.StringVar(&fields.EmailAddress, "email", "", "email address")
	fs.StringVar(&fields.PhoneNumber, "phone", "", "phone number")
	fs.StringVar(&fields.Username, "username", "", "username")
	fs.StringVar(&fields.FirstName, "first-name", "", "first name")
	fs.StringVar(&fields.LastName, "last-name", "", "last name")
	ticket := fs.String("ticket", "", "organization invitation ticket")
	invitation := fs.String("invitation", "", "invitation token")
	useLink := fs.Bool("link", false, "verify the email address with a link instead of a code")
	noPassword := fs.Bool("no-password", false, "do not set a password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := a.connect()
	if err != nil {
		return err
	}
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	env := a.environment(ctx, c)
	steps := &stepper{}
	cfg := a.flowConfig(c, env, steps)
	if a.cfg.AfterSignUpURL != "" {
		cfg.MagicLinkRedirectURL = a.cfg.AfterSignUpURL
	}
	flow := flows.NewSignUpFlow(cfg)

	if *ticket != "" || *invitation != "" {
		flow.UseTicket(*ticket)
		flow.UseInvitationToken(*invitation)
		err = flow.StartWithToken(ctx)
	} else {
		if fields.EmailAddress == "" && fields.PhoneNumber == "" && fields.Username == "" {
			if fields.EmailAddress, err = a.term.Line("Email address: "); err != nil {
				return err
			}
		}
		if !*noPassword {
			if fields.Password, err = a.term.Secret("Password: "); err != nil {
				return err
			}
		}
		err = flow.Start(ctx, fields)
	}
	if err != nil {
		return explain(err)
	}

	for i := 0; i < maxSteps; i++ {
		switch steps.take() {
		case flows.RouteVerifyEmailAddress:
			err = a.verifyEmail(ctx, flow, *useLink)
		case flows.RouteVerifyPhoneNumber:
			err = a.verifyPhone(ctx, flow)
		default:
			su := flow.SignUp()
			if su.Status != resources.SignUpMissingRequirements || len(su.MissingFields) == 0 {
				return a.reportSession(c)
			}
			err = a.fillMissing(ctx, flow, su.MissingFields)
		}
		if err != nil {
			return explain(err)
		}
	}
	return a.reportSession(c)
}

func (a *app) verifyEmail(ctx context.Context, flow *flows.SignUpFlow, useLink bool) error {
	address := flow.SignUp().EmailAddress
	if useLink {
		fmt.Fprintf(a.out, "Sent a verification link to %s. Waiting for it to be opened (Ctrl-C to stop)...\n", address)
		return flow.StartEmailMagicLink(ctx)
	}
	if err := flow.SendEmailCode(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sent a code to %s\n", address)
	return a.attemptLoop(ctx, "Code: ", flow.VerifyEmailCode)
}

func (a *app) verifyPhone(ctx context.Context, flow *flows.SignUpFlow) error {
	if err := flow.SendPhoneCode(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sent a code to %s\n", flow.SignUp().PhoneNumber)
	return a.attemptLoop(ctx, "Code: ", flow.VerifyPhoneCode)
}

// fillMissing asks for the profile fields the server still wants.
func (a *app) fillMissing(ctx context.Context, flow *flows.SignUpFlow, missing []string) error {
	var fields flows.SignUpFields
	asked := false
	for _, name := range missing {
		var err error
		switch name {
		case resources.FieldUsername:
			fields.Username, err = a.term.Line("Username: ")
		case resources.FieldFirstName:
			fields.FirstName, err = a.term.Line("First name: ")
		case resources.FieldLastName:
			fields.LastName, err = a.term.Line("Last name: ")
		case resources.FieldPassword:
			fields.Password, err = a.term.Secret("Password: ")
		default:
			continue
		}
		if err != nil {
			return err
		}
		asked = true
	}
	if !asked {
		return fmt.Errorf("the server needs fields the terminal cannot provide: %v", missing)
	}
	return flow.Update(ctx, fields)
}
