package github

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppAuth signs short-lived JWTs asserting the GitHub App identity, as
// required by the installation access-token endpoint. The JWT is obtained
// fresh per exchange; only the parsed key is held.
type AppAuth struct {
	appID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewAppAuth parses the App's PEM-encoded RSA private key.
func NewAppAuth(appID string, pemKey []byte) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("malformed GitHub App private key: %w", err)
	}
	return &AppAuth{appID: appID, key: key, now: time.Now}, nil
}

// JWT issues a token valid for ten minutes, backdated one minute to
// absorb clock skew.
func (a *AppAuth) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    a.appID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign App JWT: %w", err)
	}
	return signed, nil
}
