package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github-issue-mirror/internal/edgeclient"
	"github-issue-mirror/internal/model"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to GitHub through the edge service device flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.EdgeURL == "" {
				return fmt.Errorf("EDGE_URL is not configured")
			}
			ctx := cmd.Context()
			edge := edgeclient.New(a.cfg.EdgeURL)

			code, err := edge.Device(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Open %s and enter code: %s\n", code.VerificationURI, code.UserCode)
			fmt.Println("Waiting for authorization...")

			result, err := pollUntilAuthorized(ctx, edge, code)
			if err != nil {
				return err
			}

			if err := a.store.SetSetting(ctx, settingSessionToken, result.SessionToken); err != nil {
				return err
			}
			fmt.Printf("Signed in as %s\n", result.User.Login)

			switch len(result.Installations) {
			case 0:
				fmt.Println("No app installations found. Install the GitHub App on your repository, then run 'mirror installations'.")
			case 1:
				inst := result.Installations[0]
				if err := a.store.SetSetting(ctx, settingInstallationID, strconv.FormatInt(inst.ID, 10)); err != nil {
					return err
				}
				fmt.Printf("Using installation %d (%s)\n", inst.ID, inst.Account.Login)
			default:
				printInstallations(result.Installations)
				fmt.Println("Select one with 'mirror installations --use <id>'.")
			}
			return nil
		},
	}
}

// pollUntilAuthorized polls the edge at the server-provided interval,
// backing off further when told to slow down, until the flow completes
// or terminally fails.
func pollUntilAuthorized(ctx context.Context, edge *edgeclient.Client, code *model.DeviceCode) (*model.LoginResult, error) {
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(code.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("device code expired before authorization; run 'mirror login' again")
		}

		result, err := edge.Poll(ctx, code.DeviceCode)
		if err == nil {
			return result, nil
		}

		var apiErr *edgeclient.APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		switch apiErr.Status {
		case http.StatusAccepted:
			continue
		case http.StatusTooManyRequests:
			interval += 5 * time.Second
			continue
		case http.StatusGone:
			return nil, fmt.Errorf("device code expired; run 'mirror login' again")
		case http.StatusForbidden:
			return nil, fmt.Errorf("authorization was denied")
		default:
			if apiErr.Retryable {
				continue
			}
			return nil, err
		}
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the edge session and forget cached tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			session, err := a.store.GetSetting(ctx, settingSessionToken)
			if err != nil {
				return err
			}
			if session != "" && a.cfg.EdgeURL != "" {
				if err := edgeclient.New(a.cfg.EdgeURL).Logout(ctx, session); err != nil {
					fmt.Println("Warning: edge logout failed:", err)
				}
			}

			for _, key := range []string{settingSessionToken, settingInstallationID, settingInstToken, settingInstTokenExp} {
				if err := a.store.SetSetting(ctx, key, ""); err != nil {
					return err
				}
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func newInstallationsCmd() *cobra.Command {
	var useID int64
	cmd := &cobra.Command{
		Use:   "installations",
		Short: "List app installations for the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			if useID != 0 {
				if err := a.store.SetSetting(ctx, settingInstallationID, strconv.FormatInt(useID, 10)); err != nil {
					return err
				}
				// Drop any token minted for the previous selection.
				if err := a.store.SetSetting(ctx, settingInstToken, ""); err != nil {
					return err
				}
				fmt.Printf("Using installation %d\n", useID)
				return nil
			}

			session, err := a.store.GetSetting(ctx, settingSessionToken)
			if err != nil {
				return err
			}
			if session == "" || a.cfg.EdgeURL == "" {
				return fmt.Errorf("not signed in: run 'mirror login'")
			}

			installations, err := edgeclient.New(a.cfg.EdgeURL).Installations(ctx, session)
			if err != nil {
				return err
			}
			if len(installations) == 0 {
				fmt.Println("No installations. Install the GitHub App on your repository first.")
				return nil
			}
			printInstallations(installations)
			return nil
		},
	}
	cmd.Flags().Int64Var(&useID, "use", 0, "select this installation id for token exchange")
	return cmd
}

func printInstallations(installations []model.Installation) {
	fmt.Printf("%-12s %-20s %s\n", "ID", "ACCOUNT", "REPOSITORIES")
	for _, inst := range installations {
		fmt.Printf("%-12d %-20s %s\n", inst.ID, inst.Account.Login, inst.RepositorySelection)
	}
}
