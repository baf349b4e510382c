// Package auth orchestrates the GitHub App device-flow login end to end:
// code issuance, caller-driven polling, installation discovery, session
// creation and installation-token issuance.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	apperrors "github-issue-mirror/internal/errors"
	gh "github-issue-mirror/internal/github"
	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/session"
	"github-issue-mirror/internal/tokencache"
)

// FlowState names a position in the device authorization grant. The
// authenticator runs no background timers; callers advance the flow by
// polling and derive the state from each poll's outcome.
type FlowState string

const (
	StateIdle       FlowState = "idle"
	StateCodeIssued FlowState = "code_issued"
	StatePolling    FlowState = "polling"
	StateAuthorized FlowState = "authorized"
	StateDenied     FlowState = "denied"
	StateExpired    FlowState = "expired"
)

// FlowStateFor maps a poll outcome to the resulting flow state.
func FlowStateFor(err error) FlowState {
	if err == nil {
		return StateAuthorized
	}
	var dfe *apperrors.DeviceFlowError
	if errors.As(err, &dfe) {
		switch dfe.Code {
		case "authorization_pending", "slow_down":
			return StatePolling
		case "access_denied":
			return StateDenied
		case "expired_token":
			return StateExpired
		}
	}
	return StatePolling
}

// Authenticator owns the login flow for the edge service. All collaborators
// are injected; the zero value is not usable.
type Authenticator struct {
	gh       *gh.Client
	app      *gh.AppAuth
	sessions session.Store
	limiter  *ratelimit.Window
	tokens   *tokencache.Cache
	clientID string
	scope    string
	logger   *slog.Logger
}

// New creates an authenticator for the given GitHub App client id.
func New(client *gh.Client, app *gh.AppAuth, sessions session.Store, limiter *ratelimit.Window, clientID string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		gh:       client,
		app:      app,
		sessions: sessions,
		limiter:  limiter,
		tokens:   tokencache.New(),
		clientID: clientID,
		logger:   logger,
	}
}

// Initiate requests a device/user code pair for display to the user.
func (a *Authenticator) Initiate(ctx context.Context) (*model.DeviceCode, error) {
	code, err := a.gh.InitiateDeviceFlow(ctx, a.clientID, a.scope)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Device flow initiated", "user_code", code.UserCode, "interval", code.Interval)
	return code, nil
}

// Poll performs one poll attempt and, on authorization, completes the
// login: installation discovery, identity resolution, per-identity rate
// limiting and session creation.
func (a *Authenticator) Poll(ctx context.Context, deviceCode string) (*model.LoginResult, error) {
	tok, err := a.gh.PollDeviceFlow(ctx, a.clientID, deviceCode)
	if err != nil {
		return nil, err
	}
	return a.complete(ctx, tok.AccessToken)
}

// complete turns a fresh user access token into a session. When the user
// has installations, the first installation's account supplies the
// identity; otherwise the user profile is fetched directly, so no extra
// profile permission scope is required in the common case.
func (a *Authenticator) complete(ctx context.Context, accessToken string) (*model.LoginResult, error) {
	installations, err := a.gh.ListUserInstallations(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var user model.Account
	if len(installations) == 0 {
		profile, err := a.gh.GetAuthenticatedUser(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		user = *profile
	} else {
		user = installations[0].Account
	}

	if res := a.limiter.Allow(strconv.FormatInt(user.ID, 10)); !res.Allowed {
		return nil, &apperrors.RateLimitedError{ResetAt: res.ResetAt}
	}

	token, err := a.sessions.Create(ctx, user.ID, accessToken, installations)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Session created", "user_id", user.ID, "login", user.Login, "installations", len(installations))
	return &model.LoginResult{
		SessionToken:  token,
		User:          user,
		Installations: installations,
	}, nil
}

// Session validates the token format and loads the session, refreshing
// its sliding TTL.
func (a *Authenticator) Session(ctx context.Context, sessionToken string) (*model.Session, error) {
	if !session.ValidToken(sessionToken) {
		return nil, apperrors.ErrInvalidSessionToken
	}
	sess, err := a.sessions.Get(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	return sess, nil
}

// InstallationToken exchanges an installation id for a short-lived access
// token, serving from the cache while a live one exists. The installation
// must belong to the session; ownership is checked here at the boundary,
// not inside the token cache.
func (a *Authenticator) InstallationToken(ctx context.Context, sessionToken string, installationID int64) (*model.CachedInstallationToken, error) {
	return a.installationToken(ctx, sessionToken, installationID, false)
}

// RefreshInstallationToken always mints a fresh token, replacing any
// cached one.
func (a *Authenticator) RefreshInstallationToken(ctx context.Context, sessionToken string, installationID int64) (*model.CachedInstallationToken, error) {
	return a.installationToken(ctx, sessionToken, installationID, true)
}

func (a *Authenticator) installationToken(ctx context.Context, sessionToken string, installationID int64, force bool) (*model.CachedInstallationToken, error) {
	sess, err := a.Session(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	var owned *model.Installation
	for i := range sess.Installations {
		if sess.Installations[i].ID == installationID {
			owned = &sess.Installations[i]
			break
		}
	}
	if owned == nil {
		return nil, apperrors.ErrInstallationNotOwned
	}

	if !force {
		if cached := a.tokens.Get(installationID); cached != nil {
			return cached, nil
		}
	}

	appJWT, err := a.app.JWT()
	if err != nil {
		return nil, err
	}

	tok, err := a.gh.CreateInstallationToken(ctx, appJWT, installationID)
	if err != nil {
		return nil, err
	}
	tok.RepositorySelection = owned.RepositorySelection
	a.tokens.Put(*tok)
	return tok, nil
}

// RefreshInstallations re-fetches the session's installation list from
// GitHub and caches it on the session.
func (a *Authenticator) RefreshInstallations(ctx context.Context, sessionToken string) ([]model.Installation, error) {
	sess, err := a.Session(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	installations, err := a.gh.ListUserInstallations(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}

	if err := a.sessions.UpdateInstallations(ctx, sessionToken, installations); err != nil {
		return nil, err
	}
	return installations, nil
}

// Logout deletes the session; absent sessions are not an error.
func (a *Authenticator) Logout(ctx context.Context, sessionToken string) error {
	if !session.ValidToken(sessionToken) {
		return apperrors.ErrInvalidSessionToken
	}
	return a.sessions.Delete(ctx, sessionToken)
}
