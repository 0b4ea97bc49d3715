package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// DefaultIssuer is the iss claim of session tokens.
const DefaultIssuer = "https://clerk.twin.clerkflow.dev"

// SessionTokenTTL is how long a minted session token is valid.
const SessionTokenTTL = time.Minute

// JWTManager manages the RSA key pair that signs session tokens.
// It generates the key pair at startup and exposes the public key via JWKS.
type JWTManager struct {
	mu         sync.RWMutex
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
}

// NewJWTManager creates a new JWTManager with a fresh RSA-2048 key pair.
func NewJWTManager() (*JWTManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	// Stable key ID from the public key modulus
	hash := sha256.Sum256(key.PublicKey.N.Bytes())
	kid := base64.RawURLEncoding.EncodeToString(hash[:8])

	return &JWTManager{
		privateKey: key,
		publicKey:  &key.PublicKey,
		keyID:      kid,
		issuer:     DefaultIssuer,
	}, nil
}

// GenerateToken creates a signed session token for the given user and
// session, issued at now. Extra claims override the defaults.
func (m *JWTManager) GenerateToken(userID, sessionID string, now time.Time, extraClaims map[string]any) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(SessionTokenTTL).Unix(),
		"sid": sessionID,
	}
	for k, v := range extraClaims {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.keyID

	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// Verify parses a token signed by this manager. Time-based claims are checked
// against now so that tokens follow the simulated clock.
func (m *JWTManager) Verify(tokenString string, now time.Time) (jwt.MapClaims, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single JSON Web Key.
type JWK struct {
	KTY string `json:"kty"`
	Use string `json:"use"`
	KID string `json:"kid"`
	ALG string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// GetJWKS returns the public key in JWK format.
func (m *JWTManager) GetJWKS() JWKS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return JWKS{
		Keys: []JWK{
			{
				KTY: "RSA",
				Use: "sig",
				KID: m.keyID,
				ALG: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(m.publicKey.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(m.publicKey.E)).Bytes()),
			},
		},
	}
}

// GetJWKS handles GET /.well-known/jwks.json.
func (h *Handler) GetJWKS(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.jwtMgr.GetJWKS())
}

// generateJWTRequest is the JSON body for POST /admin/jwt/generate.
type generateJWTRequest struct {
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id,omitempty"`
	ExpiresIn   string         `json:"expires_in,omitempty"` // Go duration string, e.g. "1h"
	ExtraClaims map[string]any `json:"extra_claims,omitempty"`
}

// GenerateJWT handles POST /admin/jwt/generate, a test-only endpoint for
// minting tokens without going through a sign-in.
func (h *Handler) GenerateJWT(w http.ResponseWriter, r *http.Request) {
	var req generateJWTRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "", apiError("form_param_invalid", "Invalid request body.", err.Error()))
		return
	}
	if req.UserID == "" {
		h.fail(w, http.StatusBadRequest, "", paramError("form_param_missing", "user_id",
			"user_id is required.", "You must provide a user_id to generate a JWT."))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "sess_sim_" + req.UserID
	}

	now := h.store.Clock.Now()
	extraClaims := req.ExtraClaims
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			h.fail(w, http.StatusBadRequest, "", paramError("form_param_invalid", "expires_in",
				"Invalid expires_in duration.", err.Error()))
			return
		}
		if extraClaims == nil {
			extraClaims = make(map[string]any)
		}
		extraClaims["exp"] = now.Add(d).Unix()
	}

	token, err := h.jwtMgr.GenerateToken(req.UserID, sessionID, now, extraClaims)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "", apiError("internal_error", "Failed to generate JWT.", err.Error()))
		return
	}

	twincore.JSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"user_id":    req.UserID,
		"session_id": sessionID,
	})
}
