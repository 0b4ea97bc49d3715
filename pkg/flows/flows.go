// Package flows decides what happens after each sign-in and sign-up step:
// which screen comes next, when a session is activated and which server
// errors are recovered from without bothering the user.
//
// The flows never render anything. They talk to the outside through small
// collaborator interfaces: a Navigator that moves between steps, a
// SessionActivator that makes a session current and an Alerter for responses
// the flows do not understand.
package flows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wondertwin-ai/clerkflow/pkg/factors"
	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// Step names passed to Navigator.Navigate.
const (
	RouteFactorOne          = "factor-one"
	RouteFactorTwo          = "factor-two"
	RouteVerifyEmailAddress = "verify-email-address"
	RouteVerifyPhoneNumber  = "verify-phone-number"
)

var (
	// ErrVerificationExpired is returned when a magic link expired before it was opened.
	ErrVerificationExpired = errors.New("flows: verification expired")
	// ErrVerificationFailed is returned when the server rejected a magic link.
	ErrVerificationFailed = errors.New("flows: verification failed")
	// ErrNoFactor is returned by factor steps called without a factor.
	ErrNoFactor = errors.New("flows: no factor selected")
)

// Navigator moves the user to another step.
type Navigator interface {
	Navigate(ctx context.Context, to string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, to string) error

func (f NavigatorFunc) Navigate(ctx context.Context, to string) error { return f(ctx, to) }

// SessionActivator makes a session the active one. afterActivate runs once the
// session is active, before client listeners are notified.
// *resources.Core satisfies it.
type SessionActivator interface {
	SetSession(ctx context.Context, sessionID string, afterActivate func(context.Context) error) error
}

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(msg string)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(msg string)

func (f AlerterFunc) Alert(msg string) { f(msg) }

// Config wires a flow to its collaborators.
type Config struct {
	Core      *resources.Core
	Navigator Navigator
	// Sessions defaults to Core.
	Sessions SessionActivator
	Alerter  Alerter

	// SupportEmail is named in messages about unsupported responses.
	SupportEmail string
	// Preference is the instance's preferred first factor.
	Preference factors.Preference
	// DefaultRegion is used to read phone numbers typed without a country code.
	DefaultRegion string
	// MagicLinkRedirectURL is where emailed links send the user.
	MagicLinkRedirectURL string

	AfterSignIn func(ctx context.Context) error
	AfterSignUp func(ctx context.Context) error

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Sessions == nil && c.Core != nil {
		c.Sessions = c.Core
	}
	if c.Navigator == nil {
		c.Navigator = NavigatorFunc(func(context.Context, string) error { return nil })
	}
	if c.Alerter == nil {
		c.Alerter = AlerterFunc(func(string) {})
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = "US"
	}
	return c
}

func unsupportedMessage(status, supportEmail string) string {
	return fmt.Sprintf("Response: %s not supported yet.\nFor more information contact us at %s", status, supportEmail)
}
