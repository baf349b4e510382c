package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github-issue-mirror/internal/model"
	"github-issue-mirror/internal/store"
	"github-issue-mirror/internal/syncer"
)

func newLabelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Manage repository labels",
	}
	cmd.AddCommand(
		newLabelListCmd(),
		newLabelNewCmd(),
		newLabelEditCmd(),
		newLabelRmCmd(),
	)
	return cmd
}

func findLabel(ctx context.Context, st *store.Store, ref string) (*model.Label, error) {
	label, err := st.GetLabelByName(ctx, ref)
	if err != nil || label != nil {
		return label, err
	}
	label, err = st.GetLabel(ctx, ref)
	if err != nil {
		return nil, err
	}
	if label == nil {
		return nil, fmt.Errorf("no label matches %q", ref)
	}
	return label, nil
}

func newLabelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List labels with issue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			labels, err := a.store.ListLabels(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("%-20s %-8s %-7s %s\n", "NAME", "COLOR", "ISSUES", "DESCRIPTION")
			for _, label := range labels {
				desc := ""
				if label.Description != nil {
					desc = *label.Description
				}
				fmt.Printf("%-20s #%-7s %-7d %s\n", label.Name, label.Color, label.IssueCount, desc)
			}
			return nil
		},
	}
}

func newLabelNewCmd() *cobra.Command {
	var color, description string
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a label locally and queue it for GitHub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			label, err := eng.CreateLabel(cmd.Context(), args[0], strings.TrimPrefix(color, "#"), desc)
			if err != nil {
				return err
			}
			fmt.Printf("Created label %s (queued for sync)\n", label.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&color, "color", "c", "ededed", "6-hex-digit color")
	cmd.Flags().StringVarP(&description, "description", "d", "", "label description")
	return cmd
}

func newLabelEditCmd() *cobra.Command {
	var name, color, description string
	cmd := &cobra.Command{
		Use:   "edit <label>",
		Short: "Edit a label locally and queue the update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			label, err := findLabel(ctx, a.store, args[0])
			if err != nil {
				return err
			}

			var update syncer.LabelUpdate
			if cmd.Flags().Changed("name") {
				update.Name = &name
			}
			if cmd.Flags().Changed("color") {
				trimmed := strings.TrimPrefix(color, "#")
				update.Color = &trimmed
			}
			if cmd.Flags().Changed("description") {
				update.Description = &description
			}

			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			if _, err := eng.UpdateLabel(ctx, label.ID, update); err != nil {
				return err
			}
			fmt.Printf("Updated label %s (queued for sync)\n", label.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "new name")
	cmd.Flags().StringVarP(&color, "color", "c", "", "new 6-hex-digit color")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	return cmd
}

func newLabelRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <label>",
		Short: "Delete a label locally and queue the deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			label, err := findLabel(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			eng, _, err := a.offlineEngine()
			if err != nil {
				return err
			}
			if err := eng.DeleteLabel(ctx, label.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted label %s (queued for sync)\n", label.Name)
			return nil
		},
	}
}
