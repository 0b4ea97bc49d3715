package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
)

// Wire shapes of the Frontend API resources. Secrets kept in the store, such
// as codes, link tokens and password hashes, never appear here.

type clientJSON struct {
	Object              string        `json:"object"`
	ID                  string        `json:"id"`
	Sessions            []sessionJSON `json:"sessions"`
	SignIn              *signInJSON   `json:"sign_in"`
	SignUp              *signUpJSON   `json:"sign_up"`
	LastActiveSessionID string        `json:"last_active_session_id"`
	CreatedAt           int64         `json:"created_at"`
	UpdatedAt           int64         `json:"updated_at"`
}

type tokenJSON struct {
	Object string `json:"object"`
	JWT    string `json:"jwt"`
}

type publicUserDataJSON struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ImageURL   string `json:"image_url"`
	Identifier string `json:"identifier"`
}

type userJSON struct {
	ID                    string `json:"id"`
	Username              string `json:"username"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	PrimaryPhoneNumberID  string `json:"primary_phone_number_id"`
	PasswordEnabled       bool   `json:"password_enabled"`
	TwoFactorEnabled      bool   `json:"two_factor_enabled"`
}

type sessionJSON struct {
	Object          string             `json:"object"`
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	LastActiveAt    int64              `json:"last_active_at"`
	ExpireAt        int64              `json:"expire_at"`
	AbandonAt       int64              `json:"abandon_at"`
	LastActiveToken *tokenJSON         `json:"last_active_token"`
	PublicUserData  publicUserDataJSON `json:"public_user_data"`
	User            *userJSON          `json:"user"`
	CreatedAt       int64              `json:"created_at"`
	UpdatedAt       int64              `json:"updated_at"`
}

type verificationJSON struct {
	Status                          string                   `json:"status"`
	Strategy                        string                   `json:"strategy"`
	Attempts                        int                      `json:"attempts"`
	ExpireAt                        int64                    `json:"expire_at"`
	Error                           *store.VerificationError `json:"error,omitempty"`
	VerifiedAtClient                string                   `json:"verified_at_client,omitempty"`
	ExternalVerificationRedirectURL string                   `json:"external_verification_redirect_url,omitempty"`
}

type factorJSON struct {
	Strategy       string `json:"strategy"`
	SafeIdentifier string `json:"safe_identifier,omitempty"`
	EmailAddressID string `json:"email_address_id,omitempty"`
	PhoneNumberID  string `json:"phone_number_id,omitempty"`
	Primary        bool   `json:"primary,omitempty"`
	Default        bool   `json:"default,omitempty"`
}

type userDataJSON struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type signInJSON struct {
	Object                   string            `json:"object"`
	ID                       string            `json:"id"`
	Status                   string            `json:"status"`
	SupportedIdentifiers     []string          `json:"supported_identifiers"`
	Identifier               string            `json:"identifier"`
	SupportedFirstFactors    []factorJSON      `json:"supported_first_factors"`
	SupportedSecondFactors   []factorJSON      `json:"supported_second_factors"`
	FirstFactorVerification  *verificationJSON `json:"first_factor_verification"`
	SecondFactorVerification *verificationJSON `json:"second_factor_verification"`
	CreatedSessionID         string            `json:"created_session_id,omitempty"`
	UserData                 *userDataJSON     `json:"user_data"`
	AbandonAt                int64             `json:"abandon_at"`
}

type signUpVerificationsJSON struct {
	EmailAddress    *verificationJSON `json:"email_address"`
	PhoneNumber     *verificationJSON `json:"phone_number"`
	ExternalAccount *verificationJSON `json:"external_account"`
	Web3Wallet      *verificationJSON `json:"web3_wallet"`
}

type signUpJSON struct {
	Object                     string                  `json:"object"`
	ID                         string                  `json:"id"`
	Status                     string                  `json:"status"`
	RequiredFields             []string                `json:"required_fields"`
	OptionalFields             []string                `json:"optional_fields"`
	MissingFields              []string                `json:"missing_fields"`
	UnverifiedFields           []string                `json:"unverified_fields"`
	IdentificationRequirements [][]string              `json:"identification_requirements"`
	Verifications              signUpVerificationsJSON `json:"verifications"`
	Username                   string                  `json:"username"`
	FirstName                  string                  `json:"first_name"`
	LastName                   string                  `json:"last_name"`
	EmailAddress               string                  `json:"email_address"`
	PhoneNumber                string                  `json:"phone_number"`
	PasswordEnabled            bool                    `json:"password_enabled"`
	CreatedSessionID           string                  `json:"created_session_id,omitempty"`
	CreatedUserID              string                  `json:"created_user_id,omitempty"`
	AbandonAt                  int64                   `json:"abandon_at"`
}

type identificationLinkJSON struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type emailAddressJSON struct {
	Object       string                   `json:"object"`
	ID           string                   `json:"id"`
	EmailAddress string                   `json:"email_address"`
	Verification *verificationJSON        `json:"verification"`
	LinkedTo     []identificationLinkJSON `json:"linked_to"`
}

type phoneNumberJSON struct {
	Object                  string                   `json:"object"`
	ID                      string                   `json:"id"`
	PhoneNumber             string                   `json:"phone_number"`
	ReservedForSecondFactor bool                     `json:"reserved_for_second_factor"`
	DefaultSecondFactor     bool                     `json:"default_second_factor"`
	Verification            *verificationJSON        `json:"verification"`
	LinkedTo                []identificationLinkJSON `json:"linked_to"`
}

type deletedJSON struct {
	Object  string `json:"object"`
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func renderVerification(v *store.Verification) *verificationJSON {
	if v == nil {
		return nil
	}
	return &verificationJSON{
		Status:                          v.Status,
		Strategy:                        v.Strategy,
		Attempts:                        v.Attempts,
		ExpireAt:                        v.ExpireAt,
		Error:                           v.Error,
		VerifiedAtClient:                v.VerifiedAtClient,
		ExternalVerificationRedirectURL: v.ExternalVerificationRedirectURL,
	}
}

// renderClientByID renders the client with the given id, or nil.
func (h *Handler) renderClientByID(clientID string) *clientJSON {
	if clientID == "" {
		return nil
	}
	c, ok := h.store.Clients.Get(clientID)
	if !ok {
		return nil
	}
	return h.renderClient(c)
}

func (h *Handler) renderClient(c store.Client) *clientJSON {
	out := &clientJSON{
		Object:              store.ObjectClient,
		ID:                  c.ID,
		Sessions:            []sessionJSON{},
		LastActiveSessionID: c.LastActiveSessionID,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	for _, sess := range h.store.ClientSessions(c.ID) {
		if sess.Status == store.SessionActive {
			out.Sessions = append(out.Sessions, h.renderSession(sess))
		}
	}
	if si, ok := h.store.SignIns.Get(c.SignInID); ok && c.SignInID != "" {
		out.SignIn = h.renderSignIn(si)
	}
	if su, ok := h.store.SignUps.Get(c.SignUpID); ok && c.SignUpID != "" {
		out.SignUp = h.renderSignUp(su)
	}
	return out
}

func (h *Handler) renderSession(sess store.Session) sessionJSON {
	out := sessionJSON{
		Object:       store.ObjectSession,
		ID:           sess.ID,
		Status:       sess.Status,
		LastActiveAt: sess.LastActiveAt,
		ExpireAt:     sess.ExpireAt,
		AbandonAt:    sess.AbandonAt,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}
	if sess.LastActiveToken != "" {
		out.LastActiveToken = &tokenJSON{Object: store.ObjectToken, JWT: sess.LastActiveToken}
	}
	if user, ok := h.store.Users.Get(sess.UserID); ok {
		out.User = &userJSON{
			ID:                    user.ID,
			Username:              user.Username,
			FirstName:             user.FirstName,
			LastName:              user.LastName,
			PrimaryEmailAddressID: user.PrimaryEmailAddressID,
			PrimaryPhoneNumberID:  user.PrimaryPhoneNumberID,
			PasswordEnabled:       user.PasswordHash != "",
			TwoFactorEnabled:      h.requiresSecondFactor(user),
		}
		out.PublicUserData = publicUserDataJSON{
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			ImageURL:   user.ImageURL,
			Identifier: h.primaryIdentifier(user),
		}
	}
	return out
}

// primaryIdentifier is what a session displays for its user: the primary
// email address, then the primary phone number, then the username.
func (h *Handler) primaryIdentifier(user store.User) string {
	if e, ok := h.store.EmailAddresses.Get(user.PrimaryEmailAddressID); ok {
		return e.EmailAddress
	}
	if p, ok := h.store.PhoneNumbers.Get(user.PrimaryPhoneNumberID); ok {
		return p.PhoneNumber
	}
	return user.Username
}

func (h *Handler) renderSignIn(si store.SignIn) *signInJSON {
	out := &signInJSON{
		Object:                   store.ObjectSignIn,
		ID:                       si.ID,
		Status:                   si.Status,
		SupportedIdentifiers:     []string{"email_address", "phone_number", "username"},
		Identifier:               si.Identifier,
		SupportedFirstFactors:    []factorJSON{},
		FirstFactorVerification:  renderVerification(si.FirstFactor),
		SecondFactorVerification: renderVerification(si.SecondFactor),
		AbandonAt:                si.AbandonAt,
	}
	if si.Status == store.SignInComplete {
		out.CreatedSessionID = si.CreatedSessionID
	}
	if user, ok := h.store.Users.Get(si.UserID); ok && si.UserID != "" {
		out.SupportedFirstFactors = h.firstFactors(user)
		if si.Status == store.SignInNeedsSecondFactor || si.SecondFactor != nil {
			out.SupportedSecondFactors = h.secondFactors(user)
		}
		out.UserData = &userDataJSON{
			FirstName:       user.FirstName,
			LastName:        user.LastName,
			ProfileImageURL: user.ImageURL,
		}
	}
	return out
}

// firstFactors lists the user's first factors: codes and links for every
// verified email address, codes for phone numbers not reserved for the
// second step, the password and the linked OAuth providers.
func (h *Handler) firstFactors(user store.User) []factorJSON {
	out := []factorJSON{}
	for _, e := range h.store.UserEmails(user.ID) {
		if !e.Verification.Verified() {
			continue
		}
		primary := e.ID == user.PrimaryEmailAddressID
		out = append(out,
			factorJSON{Strategy: "email_code", SafeIdentifier: e.EmailAddress, EmailAddressID: e.ID, Primary: primary},
			factorJSON{Strategy: "email_link", SafeIdentifier: e.EmailAddress, EmailAddressID: e.ID, Primary: primary},
		)
	}
	for _, p := range h.store.UserPhones(user.ID) {
		if !p.Verification.Verified() || p.ReservedForSecondFactor {
			continue
		}
		out = append(out, factorJSON{
			Strategy:       "phone_code",
			SafeIdentifier: maskPhone(p.PhoneNumber),
			PhoneNumberID:  p.ID,
			Primary:        p.ID == user.PrimaryPhoneNumberID,
		})
	}
	if user.PasswordHash != "" {
		out = append(out, factorJSON{Strategy: "password"})
	}
	for _, provider := range user.OAuthProviders {
		out = append(out, factorJSON{Strategy: provider})
	}
	return out
}

func (h *Handler) secondFactors(user store.User) []factorJSON {
	out := []factorJSON{}
	if user.TOTPSecret != "" {
		out = append(out, factorJSON{Strategy: "totp"})
	}
	for _, p := range h.store.UserPhones(user.ID) {
		if !p.Verification.Verified() || !p.ReservedForSecondFactor {
			continue
		}
		out = append(out, factorJSON{
			Strategy:       "phone_code",
			SafeIdentifier: maskPhone(p.PhoneNumber),
			PhoneNumberID:  p.ID,
			Default:        p.DefaultSecondFactor,
		})
	}
	if len(user.BackupCodes) > 0 {
		out = append(out, factorJSON{Strategy: "backup_code"})
	}
	return out
}

func (h *Handler) renderSignUp(su store.SignUp) *signUpJSON {
	out := &signUpJSON{
		Object:                     store.ObjectSignUp,
		ID:                         su.ID,
		Status:                     su.Status,
		RequiredFields:             []string{"email_address", "password"},
		OptionalFields:             []string{"phone_number", "username", "first_name", "last_name"},
		MissingFields:              missingFields(su),
		UnverifiedFields:           unverifiedFields(su),
		IdentificationRequirements: [][]string{{"email_address", "oauth_google", "oauth_github"}, {"phone_number"}},
		Verifications: signUpVerificationsJSON{
			EmailAddress:    renderVerification(su.Email),
			PhoneNumber:     renderVerification(su.Phone),
			ExternalAccount: renderVerification(su.External),
		},
		Username:        su.Username,
		FirstName:       su.FirstName,
		LastName:        su.LastName,
		EmailAddress:    su.EmailAddress,
		PhoneNumber:     su.PhoneNumber,
		PasswordEnabled: su.PasswordHash != "",
		AbandonAt:       su.AbandonAt,
	}
	if su.Status == store.SignUpComplete {
		out.CreatedSessionID = su.CreatedSessionID
		out.CreatedUserID = su.CreatedUserID
	}
	return out
}

// missingFields lists required fields the attempt has not collected. An
// attempt backed by a verified external account needs no password.
func missingFields(su store.SignUp) []string {
	out := []string{}
	if su.EmailAddress == "" {
		out = append(out, "email_address")
	}
	if su.PasswordHash == "" && !su.External.Verified() {
		out = append(out, "password")
	}
	return out
}

// unverifiedFields lists collected identifiers that still need verifying.
func unverifiedFields(su store.SignUp) []string {
	out := []string{}
	if su.EmailAddress != "" && !su.Email.Verified() {
		out = append(out, "email_address")
	}
	if su.PhoneNumber != "" && !su.Phone.Verified() {
		out = append(out, "phone_number")
	}
	return out
}

func renderEmailAddress(e store.EmailAddress) emailAddressJSON {
	return emailAddressJSON{
		Object:       store.ObjectEmailAddress,
		ID:           e.ID,
		EmailAddress: e.EmailAddress,
		Verification: renderVerification(e.Verification),
		LinkedTo:     []identificationLinkJSON{},
	}
}

func renderPhoneNumber(p store.PhoneNumber) phoneNumberJSON {
	return phoneNumberJSON{
		Object:                  store.ObjectPhoneNumber,
		ID:                      p.ID,
		PhoneNumber:             p.PhoneNumber,
		ReservedForSecondFactor: p.ReservedForSecondFactor,
		DefaultSecondFactor:     p.DefaultSecondFactor,
		Verification:            renderVerification(p.Verification),
		LinkedTo:                []identificationLinkJSON{},
	}
}

// maskPhone hides all but the last four digits of an E.164 number while
// keeping its international layout, e.g. "+1 ***-***-0100".
func maskPhone(e164 string) string {
	num, err := phonenumbers.Parse(e164, store.DefaultRegion)
	if err != nil {
		return e164
	}
	formatted := phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
	prefix := "+" + strconv.Itoa(int(num.GetCountryCode()))
	body := strings.TrimPrefix(formatted, prefix)

	digits := 0
	for _, r := range body {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	var b strings.Builder
	b.WriteString(prefix)
	seen := 0
	for _, r := range body {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= digits-4 {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func millis(t time.Time) int64 { return t.UnixMilli() }
