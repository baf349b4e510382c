package github

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrivateKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return key, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestAppAuth_JWT(t *testing.T) {
	key, pemKey := testPrivateKeyPEM(t)

	auth, err := NewAppAuth("12345", pemKey)
	require.NoError(t, err)

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }

	signed, err := auth.JWT()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(func() time.Time { return issued }))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "12345", claims.Issuer)
	assert.Equal(t, issued.Add(-time.Minute).Unix(), claims.IssuedAt.Unix(), "backdated to absorb clock skew")
	assert.Equal(t, issued.Add(10*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestNewAppAuth_RejectsMalformedKey(t *testing.T) {
	_, err := NewAppAuth("12345", []byte("not a pem key"))
	assert.Error(t, err)
}
