package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRepoFormat is returned when a repository string in the config is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrSessionNotFound signals a missing or expired session token.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidSessionToken signals a token that is not 128 hex characters.
var ErrInvalidSessionToken = errors.New("invalid session token")

// ErrInstallationNotOwned signals a request for an installation outside the
// session's installation list.
var ErrInstallationNotOwned = errors.New("installation not owned by session")

// DeviceFlowError carries one of GitHub's device authorization grant error
// codes: authorization_pending, slow_down, expired_token, access_denied.
type DeviceFlowError struct {
	Code        string
	Description string
}

func (e *DeviceFlowError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("device flow: %s", e.Code)
	}
	return fmt.Sprintf("device flow: %s: %s", e.Code, e.Description)
}

// Terminal reports whether the flow must be restarted rather than polled
// again.
func (e *DeviceFlowError) Terminal() bool {
	return e.Code == "expired_token" || e.Code == "access_denied"
}

// RateLimitedError signals that the edge sliding-window limiter rejected a
// request for an identity.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}
