package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wondertwin-ai/clerkflow/pkg/poller"
)

// SignUpStatus is the state of a sign-up attempt.
type SignUpStatus string

const (
	SignUpMissingRequirements SignUpStatus = "missing_requirements"
	SignUpComplete            SignUpStatus = "complete"
	SignUpAbandoned           SignUpStatus = "abandoned"
)

// Known reports whether s is one of the statuses this package understands.
func (s SignUpStatus) Known() bool {
	switch s {
	case SignUpMissingRequirements, SignUpComplete, SignUpAbandoned:
		return true
	}
	return false
}

// Identifier field names used in requirement lists.
const (
	FieldEmailAddress = "email_address"
	FieldPhoneNumber  = "phone_number"
	FieldUsername     = "username"
	FieldPassword     = "password"
	FieldFirstName    = "first_name"
	FieldLastName     = "last_name"
	FieldWeb3Wallet   = "web3_wallet"
)

// SignUpVerifications holds one verification per verifiable identifier.
type SignUpVerifications struct {
	EmailAddress    Verification
	PhoneNumber     Verification
	ExternalAccount Verification
	Web3Wallet      Verification
}

// SignUp is a sign-up attempt.
type SignUp struct {
	baseResource
	Status                     SignUpStatus
	RequiredFields             []string
	OptionalFields             []string
	MissingFields              []string
	UnverifiedFields           []string
	IdentificationRequirements [][]string
	Verifications              SignUpVerifications
	Username                   string
	FirstName                  string
	LastName                   string
	EmailAddress               string
	PhoneNumber                string
	Web3Wallet                 string
	HasPassword                bool
	CreatedSessionID           string
	CreatedUserID              string
	AbandonAt                  time.Time
}

// NewSignUp returns an empty, uncreated sign-up attempt.
func NewSignUp(core *Core) *SignUp {
	s := &SignUp{}
	s.core = core
	s.pathRoot = "/client/sign_ups"
	return s
}

type signUpJSON struct {
	Object                     string       `json:"object"`
	ID                         string       `json:"id"`
	Status                     SignUpStatus `json:"status"`
	RequiredFields             []string     `json:"required_fields"`
	OptionalFields             []string     `json:"optional_fields"`
	MissingFields              []string     `json:"missing_fields"`
	UnverifiedFields           []string     `json:"unverified_fields"`
	IdentificationRequirements [][]string   `json:"identification_requirements"`
	Verifications              struct {
		EmailAddress    *verificationJSON `json:"email_address"`
		PhoneNumber     *verificationJSON `json:"phone_number"`
		ExternalAccount *verificationJSON `json:"external_account"`
		Web3Wallet      *verificationJSON `json:"web3_wallet"`
	} `json:"verifications"`
	Username         string `json:"username"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	EmailAddress     string `json:"email_address"`
	PhoneNumber      string `json:"phone_number"`
	Web3Wallet       string `json:"web3_wallet"`
	PasswordEnabled  bool   `json:"password_enabled"`
	CreatedSessionID string `json:"created_session_id"`
	CreatedUserID    string `json:"created_user_id"`
	AbandonAt        int64  `json:"abandon_at"`
}

func (s *SignUp) fromJSON(data json.RawMessage) error {
	var in signUpJSON
	if err := decodeJSON(data, &in); err != nil {
		return fmt.Errorf("decoding sign up: %w", err)
	}
	verifications := SignUpVerifications{
		EmailAddress:    verificationFromJSON(in.Verifications.EmailAddress),
		PhoneNumber:     verificationFromJSON(in.Verifications.PhoneNumber),
		ExternalAccount: verificationFromJSON(in.Verifications.ExternalAccount),
		Web3Wallet:      verificationFromJSON(in.Verifications.Web3Wallet),
	}

	if in.Status == SignUpComplete {
		if field, ok := unverifiedRequirement(in, verifications); ok {
			return fmt.Errorf("%w: sign up %s, %s", ErrUnverifiedRequirement, in.ID, field)
		}
	}

	s.id = in.ID
	s.Status = in.Status
	s.RequiredFields = in.RequiredFields
	s.OptionalFields = in.OptionalFields
	s.MissingFields = in.MissingFields
	s.UnverifiedFields = in.UnverifiedFields
	s.IdentificationRequirements = in.IdentificationRequirements
	s.Verifications = verifications
	s.Username = in.Username
	s.FirstName = in.FirstName
	s.LastName = in.LastName
	s.EmailAddress = in.EmailAddress
	s.PhoneNumber = in.PhoneNumber
	s.Web3Wallet = in.Web3Wallet
	s.HasPassword = in.PasswordEnabled
	s.CreatedSessionID = in.CreatedSessionID
	s.CreatedUserID = in.CreatedUserID
	s.AbandonAt = fromUnixMilli(in.AbandonAt)
	return nil
}

// unverifiedRequirement finds an identifier that is required, was collected
// and is not verified.
func unverifiedRequirement(in signUpJSON, v SignUpVerifications) (string, bool) {
	for _, group := range in.IdentificationRequirements {
		for _, field := range group {
			switch field {
			case FieldEmailAddress:
				if in.EmailAddress != "" && v.EmailAddress.Status != VerificationVerified {
					return field, true
				}
			case FieldPhoneNumber:
				if in.PhoneNumber != "" && v.PhoneNumber.Status != VerificationVerified {
					return field, true
				}
			case FieldWeb3Wallet:
				if in.Web3Wallet != "" && v.Web3Wallet.Status != VerificationVerified {
					return field, true
				}
			}
		}
	}
	return "", false
}

// SignUpParams are the fields accepted when creating or updating a sign-up.
type SignUpParams struct {
	EmailAddress    string   `json:"email_address,omitempty"`
	PhoneNumber     string   `json:"phone_number,omitempty"`
	Username        string   `json:"username,omitempty"`
	FirstName       string   `json:"first_name,omitempty"`
	LastName        string   `json:"last_name,omitempty"`
	Password        string   `json:"password,omitempty"`
	Strategy        Strategy `json:"strategy,omitempty"`
	Ticket          string   `json:"ticket,omitempty"`
	InvitationToken string   `json:"invitation_token,omitempty"`
	RedirectURL     string   `json:"redirect_url,omitempty"`

	ActionCompleteRedirectURL string `json:"action_complete_redirect_url,omitempty"`
}

// Create starts a new sign-up attempt.
func (s *SignUp) Create(ctx context.Context, params SignUpParams) (*SignUp, error) {
	return s, s.mutate(ctx, s, mutation{path: s.pathRoot, body: params})
}

// Update adds or changes fields on the attempt.
func (s *SignUp) Update(ctx context.Context, params SignUpParams) (*SignUp, error) {
	if s.IsNew() {
		return s, ErrResourceNotCreated
	}
	return s, s.mutate(ctx, s, mutation{method: http.MethodPatch, body: params})
}

// Reload refreshes the attempt.
func (s *SignUp) Reload(ctx context.Context, forceUpdateClient bool) (*SignUp, error) {
	return s, s.fetch(ctx, s, fetchOptions{forceUpdateClient: forceUpdateClient})
}

// AttemptVerificationParams submits a code for the identifier the strategy targets.
type AttemptVerificationParams struct {
	Strategy Strategy `json:"strategy"`
	Code     string   `json:"code,omitempty"`
}

// PrepareVerification sends a code or link for one of the attempt's identifiers.
func (s *SignUp) PrepareVerification(ctx context.Context, params PrepareVerificationParams) (*SignUp, error) {
	if s.IsNew() {
		return s, ErrResourceNotCreated
	}
	return s, s.mutate(ctx, s, mutation{action: "prepare_verification", body: params})
}

// AttemptVerification submits a code for one of the attempt's identifiers.
func (s *SignUp) AttemptVerification(ctx context.Context, params AttemptVerificationParams) (*SignUp, error) {
	if s.IsNew() {
		return s, ErrResourceNotCreated
	}
	return s, s.mutate(ctx, s, mutation{action: "attempt_verification", body: params})
}

// PrepareEmailAddressVerification mails a code to the attempt's email address.
func (s *SignUp) PrepareEmailAddressVerification(ctx context.Context) (*SignUp, error) {
	return s.PrepareVerification(ctx, PrepareVerificationParams{Strategy: StrategyEmailCode})
}

// AttemptEmailAddressVerification submits the code mailed by
// PrepareEmailAddressVerification.
func (s *SignUp) AttemptEmailAddressVerification(ctx context.Context, code string) (*SignUp, error) {
	return s.AttemptVerification(ctx, AttemptVerificationParams{Strategy: StrategyEmailCode, Code: code})
}

// PreparePhoneNumberVerification texts a code to the attempt's phone number.
func (s *SignUp) PreparePhoneNumberVerification(ctx context.Context) (*SignUp, error) {
	return s.PrepareVerification(ctx, PrepareVerificationParams{Strategy: StrategyPhoneCode})
}

// AttemptPhoneNumberVerification submits the code sent by
// PreparePhoneNumberVerification.
func (s *SignUp) AttemptPhoneNumberVerification(ctx context.Context, code string) (*SignUp, error) {
	return s.AttemptVerification(ctx, AttemptVerificationParams{Strategy: StrategyPhoneCode, Code: code})
}

// CreateMagicLinkFlow returns a flow that emails a verification link for the
// attempt's email address and waits until the verification leaves the
// unverified state.
func (s *SignUp) CreateMagicLinkFlow() *MagicLinkFlow[*SignUp] {
	return newMagicLinkFlow(s.core, func(ctx context.Context, p *poller.Poller, params StartMagicLinkParams) (*SignUp, error) {
		if s.IsNew() {
			return s, ErrResourceNotCreated
		}
		if _, err := s.PrepareVerification(ctx, PrepareVerificationParams{
			Strategy:    StrategyEmailLink,
			RedirectURL: params.RedirectURL,
		}); err != nil {
			return s, err
		}
		err := p.Run(ctx, func(ctx context.Context) (bool, error) {
			if err := s.fetch(ctx, s, fetchOptions{forceUpdateClient: true}); err != nil {
				return false, err
			}
			return !s.Verifications.EmailAddress.IsPending(), nil
		})
		return s, err
	})
}
