package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/store"
	"github-issue-mirror/internal/syncer"
)

// findIssue resolves a command-line reference: a remote number (with or
// without a leading '#') or a local id prefix.
func findIssue(ctx context.Context, st *store.Store, ref string) (*model.Issue, error) {
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		issue, err := st.GetIssueByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			return issue, nil
		}
	}

	if issue, err := st.GetIssue(ctx, ref); err != nil || issue != nil {
		return issue, err
	}

	issues, err := st.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	var match *model.Issue
	for i := range issues {
		if strings.HasPrefix(issues[i].ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("issue reference %q is ambiguous", ref)
			}
			match = &issues[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no issue matches %q", ref)
	}
	return match, nil
}

func newIssueListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			issues, err := a.store.ListIssues(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("%-8s %-6s %-9s %-15s %s\n", "ID", "NUM", "STATE", "SYNC", "TITLE")
			for _, issue := range issues {
				if state != "" && issue.State != state {
					continue
				}
				num := "-"
				if issue.Number != nil {
					num = "#" + strconv.Itoa(*issue.Number)
				}
				fmt.Printf("%-8s %-6s %-9s %-15s %s\n",
					shortID(issue.ID), num, issue.State, string(issue.SyncStatus), issue.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (open|closed)")
	return cmd
}

func newIssueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue>",
		Short: "Show one issue with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			issue, err := findIssue(ctx, a.store, args[0])
			if err != nil {
				return err
			}

			num := "(not on GitHub yet)"
			if issue.Number != nil {
				num = "#" + strconv.Itoa(*issue.Number)
			}
			fmt.Printf("%s %s [%s, %s]\n", num, issue.Title, issue.State, string(issue.SyncStatus))
			if len(issue.Labels) > 0 {
				fmt.Println("Labels:", strings.Join(issue.Labels, ", "))
			}
			if issue.Body != "" {
				fmt.Println()
				fmt.Println(issue.Body)
			}

			comments, err := a.store.ListComments(ctx, issue.ID)
			if err != nil {
				return err
			}
			for _, c := range comments {
				fmt.Printf("\n--- %s on %s ---\n%s\n", c.Author, c.CreatedAt.Format("2006-01-02 15:04"), c.Body)
			}

			if issue.SyncStatus == model.StatusConflict {
				fmt.Println("\nThis issue has an unresolved conflict. See 'mirror status' and 'mirror resolve'.")
			}
			return nil
		},
	}
}

func newIssueNewCmd() *cobra.Command {
	var title, body string
	var labels []string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an issue locally and queue it for GitHub",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			issue, err := eng.CreateIssue(cmd.Context(), title, body, labels)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s (queued for sync)\n", shortID(issue.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "issue title (required)")
	cmd.Flags().StringVarP(&body, "body", "b", "", "issue body")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "label name (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newIssueEditCmd() *cobra.Command {
	var title, body, state string
	var labels []string
	cmd := &cobra.Command{
		Use:   "edit <issue>",
		Short: "Edit an issue locally and queue the update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			issue, err := findIssue(ctx, a.store, args[0])
			if err != nil {
				return err
			}

			var update syncer.IssueUpdate
			if cmd.Flags().Changed("title") {
				update.Title = &title
			}
			if cmd.Flags().Changed("body") {
				update.Body = &body
			}
			if cmd.Flags().Changed("state") {
				if state != "open" && state != "closed" {
					return fmt.Errorf("state must be open or closed")
				}
				update.State = &state
			}
			if cmd.Flags().Changed("label") {
				update.Labels = labels
			}

			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			if _, err := eng.UpdateIssue(ctx, issue.ID, update); err != nil {
				return err
			}
			fmt.Printf("Updated %s (queued for sync)\n", shortID(issue.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&body, "body", "b", "", "new body")
	cmd.Flags().StringVar(&state, "state", "", "open or closed")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "replacement label set (repeatable)")
	return cmd
}

func newIssueRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <issue>",
		Short: "Delete an issue locally; on GitHub it is closed on next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			issue, err := findIssue(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			if err := eng.DeleteIssue(ctx, issue.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted %s (queued for sync)\n", shortID(issue.ID))
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
