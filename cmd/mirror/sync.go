package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Refresh the mirror from GitHub",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			eng, _, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := eng.Pull(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pulled %d changed issues: %d new, %d updated, %d skipped (pending local edits)\n",
				stats.Fetched, stats.Created, stats.Updated, stats.Skipped)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued local edits against GitHub",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			eng, _, err := a.engine(ctx)
			if err != nil {
				return err
			}

			for {
				stats, err := eng.Drain(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Synced %d, deferred %d, conflicts %d, skipped %d\n",
					stats.Processed, stats.Deferred, stats.Conflicts, stats.Skipped)
				if stats.Conflicts > 0 {
					fmt.Println("Conflicts need resolution: see 'mirror status' and 'mirror resolve'.")
				}

				if !watch {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(a.cfg.SyncInterval):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep syncing on the configured interval")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync queue, conflicts and API budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			entries, err := a.store.ListQueue(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Queue: empty")
			} else {
				fmt.Printf("Queue: %d pending\n", len(entries))
				fmt.Printf("  %-5s %-7s %-8s %-9s %-9s %s\n", "ID", "ENTITY", "TARGET", "OP", "ATTEMPTS", "STATE")
				for _, entry := range entries {
					state := "due"
					if entry.RetryAfter != nil && entry.RetryAfter.After(time.Now()) {
						state = "retry in " + time.Until(*entry.RetryAfter).Round(time.Second).String()
					}
					if entry.Error != "" {
						state += " (" + entry.Error + ")"
					}
					fmt.Printf("  %-5d %-7s %-8s %-9s %-9d %s\n",
						entry.ID, string(entry.EntityType), shortID(entry.EntityID),
						string(entry.Operation), entry.Attempts, state)
				}
			}

			conflicts, err := a.store.ListConflicts(ctx)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				fmt.Printf("\nConflicts: %d\n", len(conflicts))
				for _, c := range conflicts {
					fmt.Printf("  %-8s local %q vs remote %q (detected %s)\n",
						shortID(c.EntityID), c.Local.Title, c.Remote.Title,
						c.DetectedAt.Format("2006-01-02 15:04"))
				}
			}
			return nil
		},
	}
}
