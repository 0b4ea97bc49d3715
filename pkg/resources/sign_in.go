package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/wondertwin-ai/clerkflow/pkg/poller"
)

// SignInStatus is the state of a sign-in attempt.
type SignInStatus string

const (
	SignInNeedsIdentifier   SignInStatus = "needs_identifier"
	SignInNeedsFirstFactor  SignInStatus = "needs_first_factor"
	SignInNeedsSecondFactor SignInStatus = "needs_second_factor"
	SignInComplete          SignInStatus = "complete"
)

// normalize maps the needs_factor_one/needs_factor_two spelling some servers
// use onto the canonical names.
func (s SignInStatus) normalize() SignInStatus {
	switch s {
	case "needs_factor_one":
		return SignInNeedsFirstFactor
	case "needs_factor_two":
		return SignInNeedsSecondFactor
	}
	return s
}

// Known reports whether s is one of the statuses this package understands.
func (s SignInStatus) Known() bool {
	return s.rank() >= 0
}

func (s SignInStatus) rank() int {
	switch s {
	case SignInNeedsIdentifier:
		return 0
	case SignInNeedsFirstFactor:
		return 1
	case SignInNeedsSecondFactor:
		return 2
	case SignInComplete:
		return 3
	}
	return -1
}

// UserData is the profile preview the server returns once the identifier is known.
type UserData struct {
	FirstName       string
	LastName        string
	ProfileImageURL string
}

// SignIn is a sign-in attempt. Its status moves forward from needs_identifier
// to complete; CreatedSessionID is set only once it is complete.
type SignIn struct {
	baseResource
	Status                   SignInStatus
	SupportedIdentifiers     []string
	Identifier               string
	SupportedFirstFactors    []Factor
	SupportedSecondFactors   []Factor
	FirstFactorVerification  Verification
	SecondFactorVerification Verification
	CreatedSessionID         string
	UserData                 UserData
	AbandonAt                time.Time
}

// NewSignIn returns an empty, uncreated sign-in attempt.
func NewSignIn(core *Core) *SignIn {
	s := &SignIn{}
	s.core = core
	s.pathRoot = "/client/sign_ins"
	return s
}

type signInJSON struct {
	Object                   string            `json:"object"`
	ID                       string            `json:"id"`
	Status                   SignInStatus      `json:"status"`
	SupportedIdentifiers     []string          `json:"supported_identifiers"`
	Identifier               string            `json:"identifier"`
	SupportedFirstFactors    []factorJSON      `json:"supported_first_factors"`
	SupportedSecondFactors   []factorJSON      `json:"supported_second_factors"`
	FirstFactorVerification  *verificationJSON `json:"first_factor_verification"`
	SecondFactorVerification *verificationJSON `json:"second_factor_verification"`
	CreatedSessionID         string            `json:"created_session_id"`
	UserData                 *struct {
		FirstName       string `json:"first_name"`
		LastName        string `json:"last_name"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"user_data"`
	AbandonAt int64 `json:"abandon_at"`
}

func (s *SignIn) fromJSON(data json.RawMessage) error {
	var in signInJSON
	if err := decodeJSON(data, &in); err != nil {
		return fmt.Errorf("decoding sign in: %w", err)
	}
	status := in.Status.normalize()

	if s.id != "" && s.id == in.ID && status.Known() && status.rank() < s.Status.rank() {
		return fmt.Errorf("%w: sign in %s went from %s to %s", ErrStatusRegression, in.ID, s.Status, status)
	}
	if status == SignInComplete && in.CreatedSessionID == "" {
		return fmt.Errorf("%w: sign in %s", ErrMissingCreatedSession, in.ID)
	}

	s.id = in.ID
	s.Status = status
	s.SupportedIdentifiers = in.SupportedIdentifiers
	s.Identifier = in.Identifier
	s.SupportedFirstFactors = factorsFromJSON(in.SupportedFirstFactors)
	s.SupportedSecondFactors = factorsFromJSON(in.SupportedSecondFactors)
	s.FirstFactorVerification = verificationFromJSON(in.FirstFactorVerification)
	s.SecondFactorVerification = verificationFromJSON(in.SecondFactorVerification)
	s.CreatedSessionID = ""
	if status == SignInComplete {
		s.CreatedSessionID = in.CreatedSessionID
	}
	s.UserData = UserData{}
	if in.UserData != nil {
		s.UserData = UserData{
			FirstName:       in.UserData.FirstName,
			LastName:        in.UserData.LastName,
			ProfileImageURL: in.UserData.ProfileImageURL,
		}
	}
	s.AbandonAt = fromUnixMilli(in.AbandonAt)
	return nil
}

// SignInParams are the fields accepted when creating a sign-in.
type SignInParams struct {
	Identifier                string   `json:"identifier,omitempty"`
	Password                  string   `json:"password,omitempty"`
	Strategy                  Strategy `json:"strategy,omitempty"`
	Ticket                    string   `json:"ticket,omitempty"`
	RedirectURL               string   `json:"redirect_url,omitempty"`
	ActionCompleteRedirectURL string   `json:"action_complete_redirect_url,omitempty"`
}

// Create starts a new attempt. Calling Create on an existing attempt replaces
// it with the one the server returns.
func (s *SignIn) Create(ctx context.Context, params SignInParams) (*SignIn, error) {
	return s, s.mutate(ctx, s, mutation{path: s.pathRoot, body: params})
}

// Reload refreshes the attempt. With forceUpdateClient the piggybacked client
// state is applied too.
func (s *SignIn) Reload(ctx context.Context, forceUpdateClient bool) (*SignIn, error) {
	return s, s.fetch(ctx, s, fetchOptions{forceUpdateClient: forceUpdateClient})
}

// PrepareFactorParams selects the factor to prepare.
type PrepareFactorParams struct {
	Factor Factor
	// RedirectURL is used by email_link and OAuth factors.
	RedirectURL string
	// ActionCompleteRedirectURL is where OAuth returns after the callback.
	ActionCompleteRedirectURL string
}

func (p PrepareFactorParams) body() (map[string]any, error) {
	if p.Factor == nil {
		return nil, ErrFactorRequired
	}
	f := factorToJSON(p.Factor)
	body := map[string]any{"strategy": f.Strategy}
	if f.EmailAddressID != "" {
		body["email_address_id"] = f.EmailAddressID
	}
	if f.PhoneNumberID != "" {
		body["phone_number_id"] = f.PhoneNumberID
	}
	if f.Web3WalletID != "" {
		body["web3_wallet_id"] = f.Web3WalletID
	}
	if p.RedirectURL != "" {
		body["redirect_url"] = p.RedirectURL
	}
	if p.ActionCompleteRedirectURL != "" {
		body["action_complete_redirect_url"] = p.ActionCompleteRedirectURL
	}
	return body, nil
}

// AttemptFactorParams carries the proof for a factor.
type AttemptFactorParams struct {
	Strategy  Strategy `json:"strategy"`
	Code      string   `json:"code,omitempty"`
	Password  string   `json:"password,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

// PrepareFirstFactor asks the server to send a code or link for the factor.
func (s *SignIn) PrepareFirstFactor(ctx context.Context, params PrepareFactorParams) (*SignIn, error) {
	return s.prepare(ctx, "prepare_first_factor", params)
}

// AttemptFirstFactor submits proof for the first factor.
func (s *SignIn) AttemptFirstFactor(ctx context.Context, params AttemptFactorParams) (*SignIn, error) {
	return s.attempt(ctx, "attempt_first_factor", params)
}

// PrepareSecondFactor asks the server to send a code for the second factor.
func (s *SignIn) PrepareSecondFactor(ctx context.Context, params PrepareFactorParams) (*SignIn, error) {
	return s.prepare(ctx, "prepare_second_factor", params)
}

// AttemptSecondFactor submits proof for the second factor.
func (s *SignIn) AttemptSecondFactor(ctx context.Context, params AttemptFactorParams) (*SignIn, error) {
	return s.attempt(ctx, "attempt_second_factor", params)
}

func (s *SignIn) prepare(ctx context.Context, action string, params PrepareFactorParams) (*SignIn, error) {
	if s.IsNew() {
		return s, ErrResourceNotCreated
	}
	body, err := params.body()
	if err != nil {
		return s, err
	}
	return s, s.mutate(ctx, s, mutation{action: action, body: body})
}

func (s *SignIn) attempt(ctx context.Context, action string, params AttemptFactorParams) (*SignIn, error) {
	if s.IsNew() {
		return s, ErrResourceNotCreated
	}
	return s, s.mutate(ctx, s, mutation{action: action, body: params})
}

// CreateMagicLinkFlow returns a flow that emails a sign-in link and waits
// until the first factor verification leaves the unverified state. Expired
// and failed links resolve too; callers inspect FirstFactorVerification.
func (s *SignIn) CreateMagicLinkFlow() *MagicLinkFlow[*SignIn] {
	return newMagicLinkFlow(s.core, func(ctx context.Context, p *poller.Poller, params StartMagicLinkParams) (*SignIn, error) {
		if s.IsNew() {
			return s, ErrResourceNotCreated
		}
		if _, err := s.PrepareFirstFactor(ctx, PrepareFactorParams{
			Factor:      EmailLinkFactor{EmailAddressID: params.EmailAddressID},
			RedirectURL: params.RedirectURL,
		}); err != nil {
			return s, err
		}
		err := p.Run(ctx, func(ctx context.Context) (bool, error) {
			if err := s.fetch(ctx, s, fetchOptions{forceUpdateClient: true}); err != nil {
				return false, err
			}
			return !s.FirstFactorVerification.IsPending(), nil
		})
		return s, err
	})
}

// Salutation returns the name to greet the user with: their first name, or
// their full name, or the identifier they typed.
func (s *SignIn) Salutation() string {
	if name := strings.TrimSpace(s.UserData.FirstName); name != "" {
		return titleize(name)
	}
	if name := strings.TrimSpace(s.UserData.LastName); name != "" {
		return titleize(name)
	}
	return s.Identifier
}

// titleize upper-cases the first letter, which may be several bytes long.
func titleize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
