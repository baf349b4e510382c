// Package session provides durable, TTL-bound session records keyed by an
// opaque token, with sliding expiration refreshed on every read.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github-issue-mirror/internal/model"
)

// DefaultTTL is the sliding session lifetime: a session expires only when
// untouched for this long.
const DefaultTTL = 30 * 24 * time.Hour

// tokenLength is the hex length of a session token (64 random bytes).
const tokenLength = 128

var tokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{128}$`)

// ValidToken reports whether s has the exact session token format.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// generateToken returns a cryptographically random 128-hex-char token.
func generateToken() (string, error) {
	b := make([]byte, tokenLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Store is the session persistence contract shared by the edge service
// and the desktop-side cache.
type Store interface {
	// Create writes a new session and returns its token.
	Create(ctx context.Context, userID int64, accessToken string, installations []model.Installation) (string, error)
	// Get returns the session for token, refreshing its TTL, or nil if
	// the token is unknown or expired.
	Get(ctx context.Context, token string) (*model.Session, error)
	// UpdateInstallations replaces the cached installation list and
	// touches the session. Returns ErrSessionNotFound if the session
	// vanished between read and write.
	UpdateInstallations(ctx context.Context, token string, installations []model.Installation) error
	// Delete removes the session; deleting an absent token is not an
	// error.
	Delete(ctx context.Context, token string) error
}
