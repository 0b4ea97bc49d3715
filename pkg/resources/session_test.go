package resources

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sid string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": sid,
		"sub": "user_1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Second)
	tok := &Token{JWT: signedToken(t, "sess_1", exp)}

	claims, err := tok.Claims()
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims["sub"])
	assert.Equal(t, "sess_1", tok.SessionID())

	got, err := tok.ExpiresAt()
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = (&Token{JWT: "not-a-jwt"}).Claims()
	assert.Error(t, err)
}

func TestSessionGetToken(t *testing.T) {
	jwtStr := signedToken(t, "sess_1", time.Now().Add(time.Minute))
	f := (&fakeFAPI{}).push(200, `{"object":"token","jwt":"`+jwtStr+`"}`)
	s := newSession(NewCore(f), "sess_1")

	tok, err := s.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jwtStr, tok.JWT)
	assert.Same(t, tok, s.LastActiveToken)
	assert.Equal(t, "/client/sessions/sess_1/tokens", f.Calls()[0].Path)
}

func TestSetSessionTouchesThenEmits(t *testing.T) {
	sess := map[string]any{"object": "session", "id": "sess_1", "status": "active",
		"public_user_data": map[string]any{"identifier": "jane@example.com"}}
	cl := clientJSONMap("client_1", "sess_1")
	cl["sessions"] = []any{sess}
	f := (&fakeFAPI{}).push(200, envelope(sess, cl))
	core := NewCore(f)

	var order []string
	core.OnClientChange(func(cl *Client) { order = append(order, "emit:"+cl.LastActiveSessionID) })

	err := core.SetSession(context.Background(), "sess_1", func(context.Context) error {
		order = append(order, "before")
		return nil
	})
	require.NoError(t, err)

	// the piggybacked client is emitted once by the touch, then once after beforeEmit
	assert.Equal(t, []string{"emit:sess_1", "before", "emit:sess_1"}, order)
	assert.Equal(t, "/client/sessions/sess_1/touch", f.Calls()[0].Path)
	require.NotNil(t, core.ActiveSession())
	assert.Equal(t, "jane@example.com", core.ActiveSession().PublicUserData.Identifier)
}

func TestSignOutResetsClient(t *testing.T) {
	f := (&fakeFAPI{}).push(200, envelope(clientJSONMap("client_1"), nil))
	core := NewCore(f)
	core.Client().id = "client_1"
	core.Client().Sessions = []*Session{newSession(core, "sess_1")}

	require.NoError(t, core.SignOut(context.Background()))
	assert.Empty(t, core.Client().ID())
	assert.Empty(t, core.Client().Sessions)
	assert.Equal(t, "/client", f.Calls()[0].Path)
}

func TestLoadClientKeepsSignInPointer(t *testing.T) {
	cl := clientJSONMap("client_1", "sess_1")
	cl["sign_in"] = signInJSONMap("sia_1", "needs_first_factor")
	f := (&fakeFAPI{}).push(200, envelope(cl, nil))
	core := NewCore(f)
	held := core.SignIn()

	_, err := core.LoadClient(context.Background())
	require.NoError(t, err)
	assert.Same(t, held, core.SignIn())
	assert.Equal(t, "sia_1", held.ID())
	assert.Len(t, core.Client().ActiveSessions(), 1)
}
