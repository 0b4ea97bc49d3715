package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wondertwin-ai/clerkflow/pkg/poller"
)

// EmailAddress is an email identifier owned by the signed-in user.
type EmailAddress struct {
	baseResource
	EmailAddress string
	Verification Verification
	LinkedTo     []IdentificationLink
}

// NewEmailAddress returns an uncreated email address resource.
func NewEmailAddress(core *Core, address string) *EmailAddress {
	e := &EmailAddress{EmailAddress: address}
	e.core = core
	e.pathRoot = "/me/email_addresses"
	return e
}

func (e *EmailAddress) String() string { return e.EmailAddress }

type emailAddressJSON struct {
	Object       string                   `json:"object"`
	ID           string                   `json:"id"`
	EmailAddress string                   `json:"email_address"`
	Verification *verificationJSON        `json:"verification"`
	LinkedTo     []identificationLinkJSON `json:"linked_to"`
}

func (e *EmailAddress) fromJSON(data json.RawMessage) error {
	var in emailAddressJSON
	if err := decodeJSON(data, &in); err != nil {
		return fmt.Errorf("decoding email address: %w", err)
	}
	e.id = in.ID
	e.EmailAddress = in.EmailAddress
	e.Verification = verificationFromJSON(in.Verification)
	e.LinkedTo = linksFromJSON(in.LinkedTo)
	return nil
}

// Create registers the address with the server.
func (e *EmailAddress) Create(ctx context.Context) (*EmailAddress, error) {
	return e, e.mutate(ctx, e, mutation{
		path: e.pathRoot,
		body: map[string]string{"email_address": e.EmailAddress},
	})
}

// PrepareVerificationParams starts verification of an identifier.
type PrepareVerificationParams struct {
	Strategy    Strategy `json:"strategy"`
	RedirectURL string   `json:"redirect_url,omitempty"`
}

// PrepareVerification sends a code or link. The strategy defaults to email_code.
func (e *EmailAddress) PrepareVerification(ctx context.Context, params PrepareVerificationParams) (*EmailAddress, error) {
	if e.IsNew() {
		return e, ErrResourceNotCreated
	}
	if params.Strategy == "" {
		params.Strategy = StrategyEmailCode
	}
	return e, e.mutate(ctx, e, mutation{action: "prepare_verification", body: params})
}

// AttemptVerification submits a one-time code.
func (e *EmailAddress) AttemptVerification(ctx context.Context, code string) (*EmailAddress, error) {
	if e.IsNew() {
		return e, ErrResourceNotCreated
	}
	return e, e.mutate(ctx, e, mutation{
		action: "attempt_verification",
		body:   map[string]string{"code": code},
	})
}

// Reload refreshes the address from the server.
func (e *EmailAddress) Reload(ctx context.Context) (*EmailAddress, error) {
	return e, e.fetch(ctx, e, fetchOptions{})
}

// Destroy deletes the address.
func (e *EmailAddress) Destroy(ctx context.Context) error {
	return e.mutate(ctx, e, mutation{method: http.MethodDelete, discard: true})
}

// CreateMagicLinkFlow returns a flow that emails a verification link to this
// address and waits until it is verified.
func (e *EmailAddress) CreateMagicLinkFlow() *MagicLinkFlow[*EmailAddress] {
	return newMagicLinkFlow(e.core, func(ctx context.Context, p *poller.Poller, params StartMagicLinkParams) (*EmailAddress, error) {
		if e.IsNew() {
			return e, ErrResourceNotCreated
		}
		if _, err := e.PrepareVerification(ctx, PrepareVerificationParams{
			Strategy:    StrategyEmailLink,
			RedirectURL: params.RedirectURL,
		}); err != nil {
			return e, err
		}
		err := p.Run(ctx, func(ctx context.Context) (bool, error) {
			if err := e.fetch(ctx, e, fetchOptions{forceUpdateClient: true}); err != nil {
				return false, err
			}
			return e.Verification.Status == VerificationVerified, nil
		})
		return e, err
	})
}
