// Package store defines the Frontend API twin's state types.
package store

// Object names used in the "object" field of rendered resources.
const (
	ObjectClient       = "client"
	ObjectSession      = "session"
	ObjectSignIn       = "sign_in_attempt"
	ObjectSignUp       = "sign_up_attempt"
	ObjectEmailAddress = "email_address"
	ObjectPhoneNumber  = "phone_number"
	ObjectToken        = "token"
)

// Sign-in statuses.
const (
	SignInNeedsIdentifier   = "needs_identifier"
	SignInNeedsFirstFactor  = "needs_first_factor"
	SignInNeedsSecondFactor = "needs_second_factor"
	SignInComplete          = "complete"
)

// Sign-up statuses.
const (
	SignUpMissingRequirements = "missing_requirements"
	SignUpComplete            = "complete"
	SignUpAbandoned           = "abandoned"
)

// Verification statuses.
const (
	VerificationUnverified   = "unverified"
	VerificationVerified     = "verified"
	VerificationExpired      = "expired"
	VerificationFailed       = "failed"
	VerificationTransferable = "transferable"
)

// Session statuses.
const (
	SessionActive  = "active"
	SessionEnded   = "ended"
	SessionExpired = "expired"
	SessionRemoved = "removed"
)

// VerificationError is recorded on a verification the provider or the user
// rejected.
type VerificationError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	LongMessage string `json:"long_message,omitempty"`
}

// Verification is the server side of one verification attempt. Code and Token
// are secrets and never rendered to clients.
type Verification struct {
	Status           string             `json:"status"`
	Strategy         string             `json:"strategy"`
	Attempts         int                `json:"attempts"`
	ExpireAt         int64              `json:"expire_at"`
	Code             string             `json:"code,omitempty"`
	Token            string             `json:"token,omitempty"`
	VerifiedAtClient string             `json:"verified_at_client,omitempty"`
	RedirectURL      string             `json:"redirect_url,omitempty"`
	Error            *VerificationError `json:"error,omitempty"`

	ExternalVerificationRedirectURL string `json:"external_verification_redirect_url,omitempty"`
	ActionCompleteRedirectURL       string `json:"action_complete_redirect_url,omitempty"`
}

// Clone returns a deep copy of v. Records read from a store share their
// verification with the stored copy, so handlers clone before changing one.
func (v *Verification) Clone() *Verification {
	if v == nil {
		return nil
	}
	out := *v
	if v.Error != nil {
		e := *v.Error
		out.Error = &e
	}
	return &out
}

// Verified reports whether the verification succeeded.
func (v *Verification) Verified() bool {
	return v != nil && v.Status == VerificationVerified
}

// User is an account that can sign in.
type User struct {
	ID                    string   `json:"id"`
	Username              string   `json:"username,omitempty"`
	FirstName             string   `json:"first_name,omitempty"`
	LastName              string   `json:"last_name,omitempty"`
	ImageURL              string   `json:"image_url,omitempty"`
	PasswordHash          string   `json:"password_hash,omitempty"`
	TOTPSecret            string   `json:"totp_secret,omitempty"`
	BackupCodes           []string `json:"backup_codes,omitempty"`
	OAuthProviders        []string `json:"oauth_providers,omitempty"`
	PrimaryEmailAddressID string   `json:"primary_email_address_id,omitempty"`
	PrimaryPhoneNumberID  string   `json:"primary_phone_number_id,omitempty"`
	LastSignInAt          int64    `json:"last_sign_in_at,omitempty"`
	CreatedAt             int64    `json:"created_at"`
	UpdatedAt             int64    `json:"updated_at"`
}

// EmailAddress is an email identification owned by a user.
type EmailAddress struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	EmailAddress string        `json:"email_address"`
	Verification *Verification `json:"verification,omitempty"`
	CreatedAt    int64         `json:"created_at"`
}

// PhoneNumber is a phone identification owned by a user, stored in E.164.
type PhoneNumber struct {
	ID                      string        `json:"id"`
	UserID                  string        `json:"user_id"`
	PhoneNumber             string        `json:"phone_number"`
	ReservedForSecondFactor bool          `json:"reserved_for_second_factor"`
	DefaultSecondFactor     bool          `json:"default_second_factor"`
	Verification            *Verification `json:"verification,omitempty"`
	CreatedAt               int64         `json:"created_at"`
}

// Client is one browser or device; it owns sessions and the in-flight
// sign-in and sign-up attempts.
type Client struct {
	ID                  string `json:"id"`
	SignInID            string `json:"sign_in_id,omitempty"`
	SignUpID            string `json:"sign_up_id,omitempty"`
	LastActiveSessionID string `json:"last_active_session_id,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	UpdatedAt           int64  `json:"updated_at"`
}

// Session is a signed-in user on a client.
type Session struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	UserID          string `json:"user_id"`
	Status          string `json:"status"`
	LastActiveAt    int64  `json:"last_active_at"`
	ExpireAt        int64  `json:"expire_at"`
	AbandonAt       int64  `json:"abandon_at"`
	LastActiveToken string `json:"last_active_token,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// SignIn is a sign-in attempt.
type SignIn struct {
	ID               string        `json:"id"`
	ClientID         string        `json:"client_id"`
	Status           string        `json:"status"`
	Identifier       string        `json:"identifier,omitempty"`
	UserID           string        `json:"user_id,omitempty"`
	FirstFactor      *Verification `json:"first_factor_verification,omitempty"`
	FirstFactorID    string        `json:"first_factor_identification_id,omitempty"`
	SecondFactor     *Verification `json:"second_factor_verification,omitempty"`
	SecondFactorID   string        `json:"second_factor_identification_id,omitempty"`
	CreatedSessionID string        `json:"created_session_id,omitempty"`
	AbandonAt        int64         `json:"abandon_at"`
	CreatedAt        int64         `json:"created_at"`
	UpdatedAt        int64         `json:"updated_at"`
}

// SignUp is a sign-up attempt.
type SignUp struct {
	ID               string        `json:"id"`
	ClientID         string        `json:"client_id"`
	Status           string        `json:"status"`
	Username         string        `json:"username,omitempty"`
	FirstName        string        `json:"first_name,omitempty"`
	LastName         string        `json:"last_name,omitempty"`
	EmailAddress     string        `json:"email_address,omitempty"`
	PhoneNumber      string        `json:"phone_number,omitempty"`
	PasswordHash     string        `json:"password_hash,omitempty"`
	OAuthProvider    string        `json:"oauth_provider,omitempty"`
	Email            *Verification `json:"email_verification,omitempty"`
	Phone            *Verification `json:"phone_verification,omitempty"`
	External         *Verification `json:"external_verification,omitempty"`
	CreatedSessionID string        `json:"created_session_id,omitempty"`
	CreatedUserID    string        `json:"created_user_id,omitempty"`
	AbandonAt        int64         `json:"abandon_at"`
	CreatedAt        int64         `json:"created_at"`
	UpdatedAt        int64         `json:"updated_at"`
}

// Link kinds say which attempt a magic link or OAuth state belongs to.
const (
	LinkSignIn       = "sign_in"
	LinkSignUp       = "sign_up"
	LinkEmailAddress = "email_address"
)

// Link is an outstanding magic link or OAuth callback state, keyed by token.
type Link struct {
	Token       string `json:"token"`
	Kind        string `json:"kind"`
	TargetID    string `json:"target_id"`
	ClientID    string `json:"client_id"`
	Strategy    string `json:"strategy"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ExpireAt    int64  `json:"expire_at"`
}

// Ticket is a single-use sign-in or sign-up token, e.g. an invitation.
type Ticket struct {
	Token        string `json:"token"`
	EmailAddress string `json:"email_address"`
	UserID       string `json:"user_id,omitempty"`
	ExpireAt     int64  `json:"expire_at"`
	Used         bool   `json:"used"`
}

// Message is a code or link the twin would have delivered by email or SMS.
type Message struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	To        string `json:"to"`
	Strategy  string `json:"strategy"`
	Code      string `json:"code,omitempty"`
	Link      string `json:"link,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
