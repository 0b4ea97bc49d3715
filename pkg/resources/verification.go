package resources

import (
	"encoding/json"
	"time"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

// VerificationStatus is the lifecycle state of a single verification attempt.
type VerificationStatus string

const (
	VerificationUnverified   VerificationStatus = "unverified"
	VerificationVerified     VerificationStatus = "verified"
	VerificationExpired      VerificationStatus = "expired"
	VerificationFailed       VerificationStatus = "failed"
	VerificationTransferable VerificationStatus = "transferable"
)

// IsTerminal reports whether no further attempt can change the outcome.
func (s VerificationStatus) IsTerminal() bool {
	switch s {
	case VerificationVerified, VerificationExpired, VerificationFailed:
		return true
	}
	return false
}

// Verification tracks one proof-of-possession attempt. It is a value: every
// rehydration replaces it, nothing mutates it in place.
type Verification struct {
	// Status is empty until the verification has been prepared.
	Status                          VerificationStatus
	Strategy                        Strategy
	Attempts                        int
	ExpireAt                        time.Time
	Error                           *APIError
	VerifiedAtClient                string
	ExternalVerificationRedirectURL string
	Nonce                           string
}

// IsPrepared reports whether the server has started this verification.
func (v Verification) IsPrepared() bool {
	return v.Status != ""
}

// IsPending reports whether the verification has not reached an outcome yet.
func (v Verification) IsPending() bool {
	return v.Status == "" || v.Status == VerificationUnverified
}

// IsExpired reports whether the server marked the verification expired or its
// expiry time is before now.
func (v Verification) IsExpired(now time.Time) bool {
	if v.Status == VerificationExpired {
		return true
	}
	return v.Status == VerificationUnverified && !v.ExpireAt.IsZero() && now.After(v.ExpireAt)
}

// VerifiedFromTheSameClient reports whether the verification was completed by
// the client with the given id, as opposed to another tab or device.
func (v Verification) VerifiedFromTheSameClient(clientID string) bool {
	return v.Status == VerificationVerified && v.VerifiedAtClient != "" && v.VerifiedAtClient == clientID
}

type verificationJSON struct {
	Status                          VerificationStatus `json:"status"`
	Strategy                        Strategy           `json:"strategy"`
	Attempts                        int                `json:"attempts"`
	ExpireAt                        int64              `json:"expire_at"`
	Error                           *fapi.ErrorJSON    `json:"error,omitempty"`
	VerifiedAtClient                string             `json:"verified_at_client,omitempty"`
	ExternalVerificationRedirectURL string             `json:"external_verification_redirect_url,omitempty"`
	Nonce                           string             `json:"nonce,omitempty"`
}

func verificationFromJSON(data *verificationJSON) Verification {
	if data == nil {
		return Verification{}
	}
	v := Verification{
		Status:                          data.Status,
		Strategy:                        data.Strategy,
		Attempts:                        data.Attempts,
		ExpireAt:                        fromUnixMilli(data.ExpireAt),
		VerifiedAtClient:                data.VerifiedAtClient,
		ExternalVerificationRedirectURL: data.ExternalVerificationRedirectURL,
		Nonce:                           data.Nonce,
	}
	if data.Error != nil {
		e := apiErrorFromJSON(*data.Error)
		v.Error = &e
	}
	return v
}

// IdentificationLink ties an identifier to another identification, such as an
// email address verified through an OAuth account.
type IdentificationLink struct {
	ID   string
	Type string
}

type identificationLinkJSON struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func linksFromJSON(data []identificationLinkJSON) []IdentificationLink {
	out := make([]IdentificationLink, 0, len(data))
	for _, l := range data {
		out = append(out, IdentificationLink{ID: l.ID, Type: l.Type})
	}
	return out
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func decodeJSON(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
