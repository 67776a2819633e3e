package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"github.com/ashita-ai/council/internal/auth"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"), hash)

	cred, err := auth.ParseCredential(hash)
	require.NoError(t, err)
	assert.True(t, cred.Verify("correct horse"))
	assert.False(t, cred.Verify("wrong"))
	assert.False(t, cred.Verify(""))

	other, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "each hash gets a fresh salt")
}

func TestParseCredentialKeepsEncodedCost(t *testing.T) {
	// Cheaper parameters than the default still verify.
	salt := base64.RawStdEncoding.EncodeToString([]byte("0123456789abcdef"))
	key := base64.RawStdEncoding.EncodeToString(argon2.IDKey([]byte("pw"), []byte("0123456789abcdef"), 2, 1024, 1, 32))
	cred, err := auth.ParseCredential("$argon2id$v=19$m=1024,t=2,p=1$" + salt + "$" + key)
	require.NoError(t, err)
	assert.True(t, cred.Verify("pw"))
	assert.False(t, cred.Verify("PW"))
}

func TestParseCredentialRejectsMalformed(t *testing.T) {
	salt := base64.RawStdEncoding.EncodeToString([]byte("saltsaltsaltsalt"))
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"legacy two-part", "c2FsdA==$aGFzaA=="},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$" + salt + "$" + salt},
		{"wrong version", "$argon2id$v=16$m=65536,t=1,p=4$" + salt + "$" + salt},
		{"bad params", "$argon2id$v=19$m=x,t=1,p=4$" + salt + "$" + salt},
		{"zero cost", "$argon2id$v=19$m=65536,t=0,p=4$" + salt + "$" + salt},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!$" + salt},
		{"empty key", "$argon2id$v=19$m=65536,t=1,p=4$" + salt + "$"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ParseCredential(tt.encoded)
			assert.ErrorIs(t, err, auth.ErrMalformedCredential)
		})
	}

	var nilCred *auth.OperatorCredential
	assert.False(t, nilCred.Verify("anything"))
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("operator")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Operator)
}

func TestRevoke(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken("operator")
	require.NoError(t, err)
	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)

	mgr.Revoke(claims)
	_, err = mgr.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrRevoked)

	other, _, err := mgr.IssueToken("operator")
	require.NoError(t, err)
	_, err = mgr.ValidateToken(other)
	assert.NoError(t, err, "revocation is per token")

	mgr.Revoke(nil)
}

// newTestJWTManagerWithKey creates a JWTManager backed by a real Ed25519 key pair
// written to temp PEM files, and returns the raw private key for forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

// forgeToken signs a JWT with the given private key and claims.
func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func forgedClaims(issuer, operator, id string) *auth.Claims {
	now := time.Now().UTC()
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{"council"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        id,
		},
		Operator: operator,
	}
}

func TestValidateToken_FileKeys(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	token := forgeToken(t, privKey, forgedClaims("council", "operator", uuid.New().String()))
	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Operator)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	token := forgeToken(t, privKey, forgedClaims("not-council", "operator", uuid.New().String()))

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_MissingOperator(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	token := forgeToken(t, privKey, forgedClaims("council", "", uuid.New().String()))

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no operator")
}

func TestValidateToken_MalformedID(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	token := forgeToken(t, privKey, forgedClaims("council", "operator", "not-a-uuid"))

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token id")
}

func TestValidateToken_OtherKey(t *testing.T) {
	mgr, _ := newTestJWTManagerWithKey(t)
	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	token := forgeToken(t, otherKey, forgedClaims("council", "operator", uuid.New().String()))

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestNewJWTManager_MismatchedKeys(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(otherPub)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0600))

	_, err = auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
