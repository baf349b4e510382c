package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github-issue-mirror/internal/errors"
	gh "github-issue-mirror/internal/github"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/session"
)

// fixture wires an authenticator against a fake GitHub served by httptest.
type fixture struct {
	auth       *Authenticator
	sessions   *session.MemStore
	limiter    *ratelimit.Window
	tokenMints *int32
}

func setup(t *testing.T, installationsJSON string) *fixture {
	t.Helper()

	var tokenMints int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"device_code": "dc-1", "user_code": "ABCD-1234",
			"verification_uri": "https://github.com/login/device", "expires_in": 900, "interval": 5}`)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("device_code") == "dc-pending" {
			fmt.Fprintln(w, `{"error": "authorization_pending"}`)
			return
		}
		fmt.Fprintln(w, `{"access_token": "gho_user", "token_type": "bearer"}`)
	})
	mux.HandleFunc("/api/v3/user/installations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, installationsJSON)
	})
	mux.HandleFunc("/api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"id": 77, "login": "solo", "type": "User"}`)
	})
	mux.HandleFunc("/api/v3/app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenMints, 1)
		w.WriteHeader(http.StatusCreated)
		expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"token": "ghs_inst", "expires_at": %q}`, expires)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := gh.NewClient("", ratelimit.NewTracker(0), logger)
	require.NoError(t, client.OverrideBaseURL(server.URL+"/"))
	client.OverrideOAuthBase(server.URL)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	appAuth, err := gh.NewAppAuth("12345", pemKey)
	require.NoError(t, err)

	sessions := session.NewMemStore(0)
	limiter := ratelimit.NewWindow(time.Minute, 5)
	return &fixture{
		auth:       New(client, appAuth, sessions, limiter, "client-1", logger),
		sessions:   sessions,
		limiter:    limiter,
		tokenMints: &tokenMints,
	}
}

const oneInstallation = `{"total_count": 1, "installations": [
	{"id": 42, "repository_selection": "selected",
	 "account": {"id": 7, "login": "octocat", "type": "User"}}]}`

func TestAuthenticator_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("completes login using the installation account identity", func(t *testing.T) {
		f := setup(t, oneInstallation)

		code, err := f.auth.Initiate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ABCD-1234", code.UserCode)

		result, err := f.auth.Poll(ctx, code.DeviceCode)
		require.NoError(t, err)
		assert.True(t, session.ValidToken(result.SessionToken))
		assert.Equal(t, int64(7), result.User.ID)
		assert.Equal(t, "octocat", result.User.Login)
		require.Len(t, result.Installations, 1)
		assert.Equal(t, int64(42), result.Installations[0].ID)

		sess, err := f.auth.Session(ctx, result.SessionToken)
		require.NoError(t, err)
		assert.Equal(t, int64(7), sess.UserID)
	})

	t.Run("falls back to the user profile with zero installations", func(t *testing.T) {
		f := setup(t, `{"total_count": 0, "installations": []}`)

		result, err := f.auth.Poll(ctx, "dc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(77), result.User.ID)
		assert.Equal(t, "solo", result.User.Login)
		assert.Empty(t, result.Installations)
	})

	t.Run("pending authorization surfaces as DeviceFlowError", func(t *testing.T) {
		f := setup(t, oneInstallation)

		_, err := f.auth.Poll(ctx, "dc-pending")
		var dfe *apperrors.DeviceFlowError
		require.ErrorAs(t, err, &dfe)
		assert.Equal(t, "authorization_pending", dfe.Code)
		assert.Equal(t, StatePolling, FlowStateFor(err))
	})

	t.Run("per-identity limiter rejects rapid logins", func(t *testing.T) {
		f := setup(t, oneInstallation)
		f.limiter.Reset()

		// Identity is user 7 for every completed login.
		for i := 0; i < 5; i++ {
			_, err := f.auth.Poll(ctx, "dc-1")
			require.NoError(t, err)
		}

		_, err := f.auth.Poll(ctx, "dc-1")
		var rle *apperrors.RateLimitedError
		require.ErrorAs(t, err, &rle)
		assert.False(t, rle.ResetAt.IsZero())
	})
}

func TestAuthenticator_InstallationToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t, oneInstallation)

	result, err := f.auth.Poll(ctx, "dc-1")
	require.NoError(t, err)

	t.Run("exchanges an owned installation", func(t *testing.T) {
		tok, err := f.auth.InstallationToken(ctx, result.SessionToken, 42)
		require.NoError(t, err)
		assert.Equal(t, "ghs_inst", tok.Token)
		assert.Equal(t, "selected", tok.RepositorySelection)
		assert.Equal(t, int32(1), atomic.LoadInt32(f.tokenMints))
	})

	t.Run("serves a live token from the cache", func(t *testing.T) {
		_, err := f.auth.InstallationToken(ctx, result.SessionToken, 42)
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(f.tokenMints), "no second mint")
	})

	t.Run("refresh bypasses the cache", func(t *testing.T) {
		_, err := f.auth.RefreshInstallationToken(ctx, result.SessionToken, 42)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(f.tokenMints))
	})

	t.Run("rejects an installation the session does not own", func(t *testing.T) {
		_, err := f.auth.InstallationToken(ctx, result.SessionToken, 999)
		assert.ErrorIs(t, err, apperrors.ErrInstallationNotOwned)
	})

	t.Run("rejects malformed and unknown session tokens", func(t *testing.T) {
		_, err := f.auth.InstallationToken(ctx, "not-a-token", 42)
		assert.ErrorIs(t, err, apperrors.ErrInvalidSessionToken)

		unknown := result.SessionToken[:127] + "0"
		if unknown == result.SessionToken {
			unknown = result.SessionToken[:127] + "1"
		}
		_, err = f.auth.InstallationToken(ctx, unknown, 42)
		assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})
}

func TestAuthenticator_Logout(t *testing.T) {
	ctx := context.Background()
	f := setup(t, oneInstallation)

	result, err := f.auth.Poll(ctx, "dc-1")
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, result.SessionToken))

	_, err = f.auth.Session(ctx, result.SessionToken)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestFlowStateFor(t *testing.T) {
	tests := []struct {
		code string
		want FlowState
	}{
		{"authorization_pending", StatePolling},
		{"slow_down", StatePolling},
		{"access_denied", StateDenied},
		{"expired_token", StateExpired},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			err := &apperrors.DeviceFlowError{Code: tc.code}
			assert.Equal(t, tc.want, FlowStateFor(err))
		})
	}
	assert.Equal(t, StateAuthorized, FlowStateFor(nil))
}
