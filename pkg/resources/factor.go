package resources

import (
	"encoding/json"
	"strings"
)

// Strategy names a way of proving control of an identifier.
type Strategy string

const (
	StrategyPassword   Strategy = "password"
	StrategyEmailCode  Strategy = "email_code"
	StrategyPhoneCode  Strategy = "phone_code"
	StrategyEmailLink  Strategy = "email_link"
	StrategyTOTP       Strategy = "totp"
	StrategyBackupCode Strategy = "backup_code"
	StrategyTicket     Strategy = "ticket"

	StrategyOAuthGoogle  Strategy = "oauth_google"
	StrategyOAuthGitHub  Strategy = "oauth_github"
	StrategyWeb3Metamask Strategy = "web3_metamask_signature"
)

const (
	oauthStrategyPrefix = "oauth_"
	web3StrategyPrefix  = "web3_"
)

// IsOAuth reports whether s names an OAuth provider.
func (s Strategy) IsOAuth() bool { return strings.HasPrefix(string(s), oauthStrategyPrefix) }

// IsWeb3 reports whether s names a wallet signature strategy.
func (s Strategy) IsWeb3() bool { return strings.HasPrefix(string(s), web3StrategyPrefix) }

// Factor is one way a user can satisfy a verification step. The set of
// implementations is closed; unrecognised strategies decode to UnknownFactor.
type Factor interface {
	Strategy() Strategy
	isFactor()
}

// PasswordFactor is the account password.
type PasswordFactor struct{}

// EmailCodeFactor is a one-time code mailed to the address EmailAddressID.
type EmailCodeFactor struct {
	EmailAddressID string
	SafeIdentifier string
	Primary        bool
}

// PhoneCodeFactor is a one-time code sent by SMS to PhoneNumberID. Default
// marks the number preferred for second factors.
type PhoneCodeFactor struct {
	PhoneNumberID  string
	SafeIdentifier string
	Primary        bool
	Default        bool
}

// EmailLinkFactor is a magic link mailed to the address EmailAddressID.
type EmailLinkFactor struct {
	EmailAddressID string
	SafeIdentifier string
	Primary        bool
}

// OAuthFactor is an external provider; Provider is the full strategy name,
// e.g. oauth_google.
type OAuthFactor struct {
	Provider Strategy
}

// Web3Factor is a signature from the wallet Web3WalletID; Web3 is the full
// strategy name.
type Web3Factor struct {
	Web3           Strategy
	Web3WalletID   string
	SafeIdentifier string
}

// TOTPFactor is a code from an authenticator app.
type TOTPFactor struct{}

// BackupCodeFactor is one of the user's single-use recovery codes.
type BackupCodeFactor struct{}

// UnknownFactor preserves a strategy this package does not know about.
type UnknownFactor struct {
	Name           Strategy
	SafeIdentifier string
}

func (PasswordFactor) Strategy() Strategy   { return StrategyPassword }
func (EmailCodeFactor) Strategy() Strategy  { return StrategyEmailCode }
func (PhoneCodeFactor) Strategy() Strategy  { return StrategyPhoneCode }
func (EmailLinkFactor) Strategy() Strategy  { return StrategyEmailLink }
func (f OAuthFactor) Strategy() Strategy    { return f.Provider }
func (f Web3Factor) Strategy() Strategy     { return f.Web3 }
func (TOTPFactor) Strategy() Strategy       { return StrategyTOTP }
func (BackupCodeFactor) Strategy() Strategy { return StrategyBackupCode }
func (f UnknownFactor) Strategy() Strategy  { return f.Name }

func (PasswordFactor) isFactor()   {}
func (EmailCodeFactor) isFactor()  {}
func (PhoneCodeFactor) isFactor()  {}
func (EmailLinkFactor) isFactor()  {}
func (OAuthFactor) isFactor()      {}
func (Web3Factor) isFactor()       {}
func (TOTPFactor) isFactor()       {}
func (BackupCodeFactor) isFactor() {}
func (UnknownFactor) isFactor()    {}

// SafeIdentifier returns the masked identifier a factor targets, if any.
func SafeIdentifier(f Factor) string {
	switch f := f.(type) {
	case EmailCodeFactor:
		return f.SafeIdentifier
	case PhoneCodeFactor:
		return f.SafeIdentifier
	case EmailLinkFactor:
		return f.SafeIdentifier
	case Web3Factor:
		return f.SafeIdentifier
	case UnknownFactor:
		return f.SafeIdentifier
	}
	return ""
}

// FactorTarget returns the id of the identification a factor targets, or ""
// for factors that are not bound to one.
func FactorTarget(f Factor) string {
	switch f := f.(type) {
	case EmailCodeFactor:
		return f.EmailAddressID
	case EmailLinkFactor:
		return f.EmailAddressID
	case PhoneCodeFactor:
		return f.PhoneNumberID
	case Web3Factor:
		return f.Web3WalletID
	}
	return ""
}

type factorJSON struct {
	Strategy       Strategy `json:"strategy"`
	SafeIdentifier string   `json:"safe_identifier,omitempty"`
	EmailAddressID string   `json:"email_address_id,omitempty"`
	PhoneNumberID  string   `json:"phone_number_id,omitempty"`
	Web3WalletID   string   `json:"web3_wallet_id,omitempty"`
	Primary        bool     `json:"primary,omitempty"`
	Default        bool     `json:"default,omitempty"`
}

func factorFromJSON(data factorJSON) Factor {
	switch s := data.Strategy; {
	case s == StrategyPassword:
		return PasswordFactor{}
	case s == StrategyEmailCode:
		return EmailCodeFactor{EmailAddressID: data.EmailAddressID, SafeIdentifier: data.SafeIdentifier, Primary: data.Primary}
	case s == StrategyEmailLink:
		return EmailLinkFactor{EmailAddressID: data.EmailAddressID, SafeIdentifier: data.SafeIdentifier, Primary: data.Primary}
	case s == StrategyPhoneCode:
		return PhoneCodeFactor{PhoneNumberID: data.PhoneNumberID, SafeIdentifier: data.SafeIdentifier, Primary: data.Primary, Default: data.Default}
	case s == StrategyTOTP:
		return TOTPFactor{}
	case s == StrategyBackupCode:
		return BackupCodeFactor{}
	case s.IsOAuth():
		return OAuthFactor{Provider: s}
	case s.IsWeb3():
		return Web3Factor{Web3: s, Web3WalletID: data.Web3WalletID, SafeIdentifier: data.SafeIdentifier}
	default:
		return UnknownFactor{Name: s, SafeIdentifier: data.SafeIdentifier}
	}
}

func factorToJSON(f Factor) factorJSON {
	out := factorJSON{Strategy: f.Strategy(), SafeIdentifier: SafeIdentifier(f)}
	switch f := f.(type) {
	case EmailCodeFactor:
		out.EmailAddressID, out.Primary = f.EmailAddressID, f.Primary
	case EmailLinkFactor:
		out.EmailAddressID, out.Primary = f.EmailAddressID, f.Primary
	case PhoneCodeFactor:
		out.PhoneNumberID, out.Primary, out.Default = f.PhoneNumberID, f.Primary, f.Default
	case Web3Factor:
		out.Web3WalletID = f.Web3WalletID
	}
	return out
}

func factorsFromJSON(data []factorJSON) []Factor {
	if data == nil {
		return nil
	}
	out := make([]Factor, 0, len(data))
	for _, f := range data {
		out = append(out, factorFromJSON(f))
	}
	return out
}

// ParseFactor decodes a single factor descriptor.
func ParseFactor(data []byte) (Factor, error) {
	var f factorJSON
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return factorFromJSON(f), nil
}

// MarshalFactor encodes a factor descriptor in wire form.
func MarshalFactor(f Factor) ([]byte, error) {
	return json.Marshal(factorToJSON(f))
}
