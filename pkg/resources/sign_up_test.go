package resources

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signUpJSONMap(status string, emailStatus string) map[string]any {
	m := map[string]any{
		"object":                      "sign_up_attempt",
		"id":                          "sua_1",
		"status":                      status,
		"required_fields":             []string{"email_address", "password"},
		"missing_fields":              []string{},
		"unverified_fields":           []string{},
		"identification_requirements": [][]string{{"email_address"}},
		"email_address":               "new@example.com",
		"password_enabled":            true,
		"verifications": map[string]any{
			"email_address": map[string]any{"status": emailStatus, "strategy": "email_code", "attempts": 1},
		},
	}
	if status == "complete" {
		m["created_session_id"] = "sess_1"
		m["created_user_id"] = "user_1"
	}
	return m
}

func TestSignUpCompleteRequiresVerifiedIdentifiers(t *testing.T) {
	f := (&fakeFAPI{}).push(200, envelope(signUpJSONMap("complete", "unverified"), nil))
	s := NewSignUp(NewCore(f))
	_, err := s.Create(context.Background(), SignUpParams{EmailAddress: "new@example.com"})
	assert.ErrorIs(t, err, ErrUnverifiedRequirement)
	assert.True(t, s.IsNew())
}

func TestSignUpVerificationLifecycle(t *testing.T) {
	f := (&fakeFAPI{}).
		push(200, envelope(signUpJSONMap("missing_requirements", ""), nil)).
		push(200, envelope(signUpJSONMap("missing_requirements", "unverified"), nil)).
		push(200, envelope(signUpJSONMap("complete", "verified"), nil))
	s := NewSignUp(NewCore(f))
	ctx := context.Background()

	_, err := s.Create(ctx, SignUpParams{EmailAddress: "new@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.False(t, s.Verifications.EmailAddress.IsPrepared())

	_, err = s.PrepareEmailAddressVerification(ctx)
	require.NoError(t, err)
	assert.Equal(t, VerificationUnverified, s.Verifications.EmailAddress.Status)

	_, err = s.AttemptEmailAddressVerification(ctx, "424242")
	require.NoError(t, err)
	assert.Equal(t, SignUpComplete, s.Status)
	assert.Equal(t, "sess_1", s.CreatedSessionID)
	assert.True(t, s.HasPassword)

	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "/client/sign_ups", calls[0].Path)
	assert.Equal(t, "/client/sign_ups/sua_1/prepare_verification", calls[1].Path)
	assert.Equal(t, PrepareVerificationParams{Strategy: StrategyEmailCode}, calls[1].Body)
	assert.Equal(t, AttemptVerificationParams{Strategy: StrategyEmailCode, Code: "424242"}, calls[2].Body)
}

func TestSignUpPhoneVerificationUsesPhoneCode(t *testing.T) {
	f := (&fakeFAPI{}).
		push(200, envelope(signUpJSONMap("missing_requirements", ""), nil)).
		push(200, envelope(signUpJSONMap("missing_requirements", ""), nil))
	s := NewSignUp(NewCore(f))
	s.id = "sua_1"
	ctx := context.Background()

	_, err := s.PreparePhoneNumberVerification(ctx)
	require.NoError(t, err)
	_, err = s.AttemptPhoneNumberVerification(ctx, "123456")
	require.NoError(t, err)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/client/sign_ups/sua_1/prepare_verification", calls[0].Path)
	assert.Equal(t, PrepareVerificationParams{Strategy: StrategyPhoneCode}, calls[0].Body)
	assert.Equal(t, "/client/sign_ups/sua_1/attempt_verification", calls[1].Path)
	assert.Equal(t, AttemptVerificationParams{Strategy: StrategyPhoneCode, Code: "123456"}, calls[1].Body)
}

func TestSignUpUpdateUsesPatch(t *testing.T) {
	f := (&fakeFAPI{}).push(200, envelope(signUpJSONMap("missing_requirements", ""), nil))
	s := NewSignUp(NewCore(f))
	s.id = "sua_1"
	_, err := s.Update(context.Background(), SignUpParams{FirstName: "Jane"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, f.Calls()[0].Method)
	assert.Equal(t, "/client/sign_ups/sua_1", f.Calls()[0].Path)
}

func TestSignUpStatusKnown(t *testing.T) {
	assert.True(t, SignUpAbandoned.Known())
	assert.False(t, SignUpStatus("transferable").Known())
}
