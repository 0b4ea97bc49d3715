package resources

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

// Error codes the Frontend API returns that callers act on.
const (
	ErrCodeFormIdentifierNotFound    = "form_identifier_not_found"
	ErrCodeFormIdentifierExists      = "form_identifier_exists"
	ErrCodeFormPasswordIncorrect     = "form_password_incorrect"
	ErrCodeFormCodeIncorrect         = "form_code_incorrect"
	ErrCodeFormParamMissing          = "form_param_missing"
	ErrCodeFormParamFormatInvalid    = "form_param_format_invalid"
	ErrCodeInvalidStrategyForUser    = "invalid_strategy_for_user"
	ErrCodeIdentifierAlreadySignedIn = "identifier_already_signed_in"
	ErrCodeNotAllowedToSignUp        = "not_allowed_to_sign_up"
	ErrCodeOAuthAccessDenied         = "oauth_access_denied"
	ErrCodeVerificationExpired       = "verification_expired"
	ErrCodeVerificationFailed        = "verification_failed"
	ErrCodeStrategyForUserInvalid    = "strategy_for_user_invalid"
	ErrCodeResourceNotFound          = "resource_not_found"
	ErrCodeAuthenticationInvalid     = "authentication_invalid"
)

var (
	// ErrResourceNotCreated is returned when an operation that needs a server
	// id is called on a resource that has not been created yet.
	ErrResourceNotCreated = errors.New("resources: resource has not been created")

	// ErrMutationInFlight is returned when a mutating call is made on a
	// resource while another mutation on it is still outstanding.
	ErrMutationInFlight = errors.New("resources: another mutation is in flight")

	// ErrStatusRegression is returned when the server reports an earlier
	// status for the same attempt.
	ErrStatusRegression = errors.New("resources: attempt status moved backwards")

	// ErrMissingCreatedSession is returned when a completed attempt carries no session.
	ErrMissingCreatedSession = errors.New("resources: complete attempt has no created session")

	// ErrUnverifiedRequirement is returned when a sign-up reports complete while
	// a collected, required identifier is not verified.
	ErrUnverifiedRequirement = errors.New("resources: complete sign-up has an unverified identifier")

	// ErrFactorRequired is returned when a prepare call is made without a factor.
	ErrFactorRequired = errors.New("resources: factor is required")
)

// APIErrorMeta is the structured metadata attached to an APIError.
type APIErrorMeta struct {
	ParamName      string
	SessionID      string
	EmailAddresses []string
}

// APIError is a single error reported by the Frontend API.
type APIError struct {
	Code        string
	Message     string
	LongMessage string
	Meta        APIErrorMeta
}

func apiErrorFromJSON(e fapi.ErrorJSON) APIError {
	out := APIError{
		Code:        e.Code,
		Message:     e.Message,
		LongMessage: e.LongMessage,
	}
	if e.Meta != nil {
		out.Meta = APIErrorMeta{
			ParamName:      e.Meta.ParamName,
			SessionID:      e.Meta.SessionID,
			EmailAddresses: e.Meta.EmailAddresses,
		}
	}
	return out
}

// APIResponseError is returned for every response with status >= 400.
type APIResponseError struct {
	Status     int
	StatusText string
	Errors     []APIError
}

func newAPIResponseError(resp *fapi.Response) *APIResponseError {
	e := &APIResponseError{
		Status:     resp.Status,
		StatusText: resp.StatusText,
	}
	if resp.Payload != nil {
		e.Errors = make([]APIError, 0, len(resp.Payload.Errors))
		for _, item := range resp.Payload.Errors {
			e.Errors = append(e.Errors, apiErrorFromJSON(item))
		}
	}
	return e
}

func (e *APIResponseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fapi: %d %s", e.Status, e.StatusText)
	for i, item := range e.Errors {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(item.Code)
		if item.Message != "" {
			b.WriteString(" (" + item.Message + ")")
		}
	}
	return b.String()
}

// Find returns the first error whose code is one of codes.
func (e *APIResponseError) Find(codes ...string) (APIError, bool) {
	for _, item := range e.Errors {
		for _, code := range codes {
			if item.Code == code {
				return item, true
			}
		}
	}
	return APIError{}, false
}

// AsAPIResponseError unwraps err into an *APIResponseError.
func AsAPIResponseError(err error) (*APIResponseError, bool) {
	var apiErr *APIResponseError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasErrorCode reports whether err is an API error carrying one of codes.
func HasErrorCode(err error, codes ...string) bool {
	apiErr, ok := AsAPIResponseError(err)
	if !ok {
		return false
	}
	_, found := apiErr.Find(codes...)
	return found
}
