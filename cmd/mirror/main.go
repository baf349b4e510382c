// cmd/mirror/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github-issue-mirror/internal/config"
	"github-issue-mirror/internal/edgeclient"
	"github-issue-mirror/internal/github"
	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/ratelimit"
	"github-issue-mirror/internal/store"
	"github-issue-mirror/internal/syncer"
)

// Settings keys used to persist login state between invocations.
const (
	settingSessionToken   = "session_token"
	settingInstallationID = "installation_id"
	settingInstToken      = "installation_token"
	settingInstTokenExp   = "installation_token_expires_at"
)

// app bundles the dependencies shared by all commands.
type app struct {
	cfg    *config.MirrorConfig
	store  *store.Store
	logger *slog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mirror",
		Short:         "Local-first GitHub issue and label mirror",
		Long:          "mirror keeps a local copy of one repository's issues and labels,\nqueues offline edits and replays them against GitHub.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newInstallationsCmd(),
		newIssueListCmd(),
		newIssueShowCmd(),
		newIssueNewCmd(),
		newIssueEditCmd(),
		newIssueRmCmd(),
		newLabelsCmd(),
		newPullCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newResolveCmd(),
	)
	return root
}

// openApp loads configuration and opens the local database. Callers close
// the store.
func openApp() (*app, error) {
	cfg, err := config.LoadMirrorConfig()
	if err != nil {
		return nil, err
	}

	logLevel := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st, logger: logger}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

// engine builds a sync engine backed by whatever credential is available:
// a direct GITHUB_TOKEN, or an installation token obtained through the
// edge service session.
func (a *app) engine(ctx context.Context) (*syncer.Engine, *ratelimit.Tracker, error) {
	token, err := a.resolveToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	tracker := ratelimit.NewTracker(ratelimit.DefaultWarningThreshold)
	tracker.OnThreshold(func(state model.RateLimitState) {
		fmt.Fprintf(os.Stderr, "Warning: GitHub API budget low (%d/%d remaining, resets %s)\n",
			state.Remaining, state.Limit, state.Reset.Local().Format(time.Kitchen))
	})

	client := github.NewClient(token, tracker, a.logger)
	repo := syncer.RepoIdentifier{Owner: a.cfg.RepoOwner, Name: a.cfg.RepoName}
	return syncer.NewEngine(a.store, client, tracker, repo, a.logger), tracker, nil
}

// offlineEngine builds an engine without resolving credentials. Local
// mutations only touch the database; the GitHub client stays unused.
func (a *app) offlineEngine() (*syncer.Engine, *ratelimit.Tracker, error) {
	tracker := ratelimit.NewTracker(ratelimit.DefaultWarningThreshold)
	client := github.NewClient("", tracker, a.logger)
	repo := syncer.RepoIdentifier{Owner: a.cfg.RepoOwner, Name: a.cfg.RepoName}
	return syncer.NewEngine(a.store, client, tracker, repo, a.logger), tracker, nil
}

func (a *app) resolveToken(ctx context.Context) (string, error) {
	if a.cfg.GithubToken != "" {
		return a.cfg.GithubToken, nil
	}

	session, err := a.store.GetSetting(ctx, settingSessionToken)
	if err != nil {
		return "", err
	}
	if session == "" || a.cfg.EdgeURL == "" {
		return "", fmt.Errorf("no GitHub credentials: set GITHUB_TOKEN, or set EDGE_URL and run 'mirror login'")
	}

	// Reuse the cached installation token while it has a safety margin
	// left.
	cached, _ := a.store.GetSetting(ctx, settingInstToken)
	expRaw, _ := a.store.GetSetting(ctx, settingInstTokenExp)
	if cached != "" && expRaw != "" {
		if exp, err := time.Parse(time.RFC3339, expRaw); err == nil && time.Until(exp) > 2*time.Minute {
			return cached, nil
		}
	}

	instRaw, err := a.store.GetSetting(ctx, settingInstallationID)
	if err != nil {
		return "", err
	}
	if instRaw == "" {
		return "", fmt.Errorf("no installation selected: run 'mirror installations --use <id>'")
	}
	instID, err := strconv.ParseInt(instRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("stored installation id %q is not a number", instRaw)
	}

	edge := edgeclient.New(a.cfg.EdgeURL)
	tok, err := edge.InstallationToken(ctx, session, instID)
	if err != nil {
		return "", err
	}

	if err := a.store.SetSetting(ctx, settingInstToken, tok.Token); err != nil {
		return "", err
	}
	if err := a.store.SetSetting(ctx, settingInstTokenExp, tok.ExpiresAt.UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	return tok.Token, nil
}
