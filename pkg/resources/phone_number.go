package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nyaruka/phonenumbers"
)

// PhoneNumber is a phone identifier owned by the signed-in user.
type PhoneNumber struct {
	baseResource
	PhoneNumber             string
	Verification            Verification
	LinkedTo                []IdentificationLink
	ReservedForSecondFactor bool
}

// NewPhoneNumber returns an uncreated phone number resource.
func NewPhoneNumber(core *Core, number string) *PhoneNumber {
	p := &PhoneNumber{PhoneNumber: number}
	p.core = core
	p.pathRoot = "/me/phone_numbers"
	return p
}

func (p *PhoneNumber) String() string { return p.PhoneNumber }

// International formats the number for display. Numbers that do not parse are
// returned unchanged.
func (p *PhoneNumber) International() string {
	num, err := phonenumbers.Parse(p.PhoneNumber, "")
	if err != nil {
		return p.PhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

type phoneNumberJSON struct {
	Object                  string                   `json:"object"`
	ID                      string                   `json:"id"`
	PhoneNumber             string                   `json:"phone_number"`
	ReservedForSecondFactor bool                     `json:"reserved_for_second_factor"`
	Verification            *verificationJSON        `json:"verification"`
	LinkedTo                []identificationLinkJSON `json:"linked_to"`
}

func (p *PhoneNumber) fromJSON(data json.RawMessage) error {
	var in phoneNumberJSON
	if err := decodeJSON(data, &in); err != nil {
		return fmt.Errorf("decoding phone number: %w", err)
	}
	p.id = in.ID
	p.PhoneNumber = in.PhoneNumber
	p.ReservedForSecondFactor = in.ReservedForSecondFactor
	p.Verification = verificationFromJSON(in.Verification)
	p.LinkedTo = linksFromJSON(in.LinkedTo)
	return nil
}

// Create registers the number with the server.
func (p *PhoneNumber) Create(ctx context.Context) (*PhoneNumber, error) {
	return p, p.mutate(ctx, p, mutation{
		path: p.pathRoot,
		body: map[string]string{"phone_number": p.PhoneNumber},
	})
}

// PrepareVerification sends a code by SMS. The strategy defaults to phone_code.
func (p *PhoneNumber) PrepareVerification(ctx context.Context) (*PhoneNumber, error) {
	if p.IsNew() {
		return p, ErrResourceNotCreated
	}
	return p, p.mutate(ctx, p, mutation{
		action: "prepare_verification",
		body:   PrepareVerificationParams{Strategy: StrategyPhoneCode},
	})
}

// AttemptVerification submits a one-time code.
func (p *PhoneNumber) AttemptVerification(ctx context.Context, code string) (*PhoneNumber, error) {
	if p.IsNew() {
		return p, ErrResourceNotCreated
	}
	return p, p.mutate(ctx, p, mutation{
		action: "attempt_verification",
		body:   map[string]string{"code": code},
	})
}

// Reload refreshes the number from the server.
func (p *PhoneNumber) Reload(ctx context.Context) (*PhoneNumber, error) {
	return p, p.fetch(ctx, p, fetchOptions{})
}

// Destroy deletes the number.
func (p *PhoneNumber) Destroy(ctx context.Context) error {
	return p.mutate(ctx, p, mutation{method: http.MethodDelete, discard: true})
}
