package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/cyp0633/libcaldora-sync/syncengine"
	"github.com/spf13/cobra"
)

func newSyncCmd(c *cli) *cobra.Command {
	var (
		opts       syncengine.FullSyncOptions
		from, to   string
		noEvents   bool
		noContacts bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Discover collections, refresh stale ones and replay pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window, err := parseWindow(from, to, c.cfg, time.Now())
			if err != nil {
				return err
			}
			opts.Window = &window
			opts.SkipEvents = noEvents
			opts.SkipContacts = noContacts

			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.engine.FullSync(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printSyncResult(cmd.OutOrStdout(), result)
			if len(result.Errors) > 0 {
				return fmt.Errorf("sync finished with %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.ForceRefresh, "force", "f", false, "refresh collections synced less than the refresh threshold ago")
	cmd.Flags().BoolVar(&noEvents, "no-events", false, "skip calendar resources")
	cmd.Flags().BoolVar(&noContacts, "no-contacts", false, "skip address book resources")
	cmd.Flags().StringVar(&from, "from", "", `start of the event window, e.g. "2025-01-01" or "last month"`)
	cmd.Flags().StringVar(&to, "to", "", `end of the event window, e.g. "in 3 months"`)
	return cmd
}

func printSyncResult(w io.Writer, r *syncengine.SyncResult) {
	fmt.Fprintf(w, "%s in %s\n", titleStyle.Render("Sync complete"), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  calendars:     %d\n", len(r.Calendars))
	fmt.Fprintf(w, "  address books: %d\n", len(r.AddressBooks))
	fmt.Fprintf(w, "  refreshed:     %d\n", len(r.Refreshed))
	fmt.Fprintf(w, "  replayed:      %d (skipped %d, remaining %d)\n", r.Replay.Replayed, r.Replay.Skipped, r.Replay.Remaining)

	for _, f := range r.Replay.Conflicts {
		fmt.Fprintf(w, "  %s %s %s: %v\n", warnStyle.Render("conflict"), f.Operation.Type, describePayload(f.Operation), f.Err)
	}
	for _, f := range r.Replay.Failed {
		fmt.Fprintf(w, "  %s %s %s: %v\n", errStyle.Render("failed"), f.Operation.Type, describePayload(f.Operation), f.Err)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(w, "  %s %v\n", errStyle.Render("error"), err)
	}
}

func collectionLabel(col resource.Collection) string {
	if col.DisplayName != "" {
		return col.DisplayName
	}
	return col.URL
}
