package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github-issue-mirror/internal/model"
)

func newResolveCmd() *cobra.Command {
	var strategy, title, body string
	var labels []string
	cmd := &cobra.Command{
		Use:   "resolve <issue>",
		Short: "Resolve a sync conflict",
		Long: `Resolve a detected conflict for an issue.

Strategies:
  local   keep the local version and push it
  remote  adopt the remote version and discard local edits
  merged  use the --title/--body you supply and push that`,
		Args: cobra.ExactArgs(1),
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

			var resolution model.Resolution
			var merged *model.MergedFields
			switch strategy {
			case "local":
				resolution = model.ResolveLocal
			case "remote":
				resolution = model.ResolveRemote
			case "merged":
				if !cmd.Flags().Changed("title") || !cmd.Flags().Changed("body") {
					return fmt.Errorf("merged resolution requires --title and --body")
				}
				resolution = model.ResolveMerged
				merged = &model.MergedFields{Title: title, Body: body}
				if cmd.Flags().Changed("label") {
					merged.Labels = labels
				}
			default:
				return fmt.Errorf("strategy must be local, remote or merged")
			}

			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			resolved, err := eng.Resolve(ctx, issue.ID, resolution, merged)
			if err != nil {
				return err
			}

			if resolved.SyncStatus == model.StatusSynced {
				fmt.Printf("Resolved %s with remote version\n", shortID(issue.ID))
			} else {
				fmt.Printf("Resolved %s; run 'mirror sync' to push\n", shortID(issue.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "local, remote or merged (required)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "merged title")
	cmd.Flags().StringVarP(&body, "body", "b", "", "merged body")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "merged label set (repeatable)")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}
