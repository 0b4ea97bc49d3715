package flows

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// Recovery is what a flow does about a failed call.
type Recovery int

const (
	// Surface shows the error next to the form fields.
	Surface Recovery = iota
	// RetryWithoutPassword repeats sign-in creation with the identifier only.
	RetryWithoutPassword
	// ActivateExistingSession switches to the session named in the error.
	ActivateExistingSession
	// SurfaceAndReset shows the error and starts a fresh attempt so the error
	// does not stick to the current one.
	SurfaceAndReset
	// Fatal covers failures that are not API errors, such as transport errors.
	Fatal
)

func (r Recovery) String() string {
	switch r {
	case Surface:
		return "surface"
	case RetryWithoutPassword:
		return "retry_without_password"
	case ActivateExistingSession:
		return "activate_existing_session"
	case SurfaceAndReset:
		return "surface_and_reset"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("recovery(%d)", int(r))
}

// Classify decides how to recover from err and returns the API error that
// triggered the decision. Password errors take precedence over an existing
// session.
func Classify(err error) (Recovery, resources.APIError) {
	apiErr, ok := resources.AsAPIResponseError(err)
	if !ok {
		return Fatal, resources.APIError{}
	}
	if e, ok := apiErr.Find(resources.ErrCodeInvalidStrategyForUser, resources.ErrCodeFormPasswordIncorrect); ok {
		return RetryWithoutPassword, e
	}
	if e, ok := apiErr.Find(resources.ErrCodeIdentifierAlreadySignedIn); ok {
		return ActivateExistingSession, e
	}
	if e, ok := apiErr.Find(resources.ErrCodeNotAllowedToSignUp, resources.ErrCodeOAuthAccessDenied); ok {
		return SurfaceAndReset, e
	}
	var first resources.APIError
	if len(apiErr.Errors) > 0 {
		first = apiErr.Errors[0]
	}
	return Surface, first
}

// FormError is a failure ready to be shown on a form: messages keyed by
// field name, plus a message for the form as a whole.
type FormError struct {
	Global string
	Fields map[string]string
	Err    error
}

func (e *FormError) Error() string {
	parts := make([]string, 0, len(e.Fields)+1)
	if e.Global != "" {
		parts = append(parts, e.Global)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	if len(parts) == 0 && e.Err != nil {
		return e.Err.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *FormError) Unwrap() error { return e.Err }

// NewFormError maps err onto the named form fields. API errors whose
// param_name matches a field are attached to it; the rest become the global
// message.
func NewFormError(err error, fields ...string) *FormError {
	fe := &FormError{Fields: map[string]string{}, Err: err}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for name, ferr := range verrs {
			fe.Fields[name] = ferr.Error()
		}
		return fe
	}

	apiErr, ok := resources.AsAPIResponseError(err)
	if !ok {
		fe.Global = err.Error()
		return fe
	}
	for _, e := range apiErr.Errors {
		msg := e.LongMessage
		if msg == "" {
			msg = e.Message
		}
		if name := e.Meta.ParamName; name != "" && contains(fields, name) {
			if _, set := fe.Fields[name]; !set {
				fe.Fields[name] = msg
			}
			continue
		}
		if fe.Global == "" {
			fe.Global = msg
		}
	}
	return fe
}

// AsFormError unwraps err into a *FormError.
func AsFormError(err error) (*FormError, bool) {
	var fe *FormError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
