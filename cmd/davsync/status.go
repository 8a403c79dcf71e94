package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cyp0633/libcaldora-sync/syncengine"
	"github.com/spf13/cobra"
)

type statusView struct {
	Online       bool          `json:"online" yaml:"online"`
	LastSync     *time.Time    `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
	InProgress   bool          `json:"inProgress" yaml:"inProgress"`
	PendingCount int           `json:"pendingCount" yaml:"pendingCount"`
	Pending      []pendingView `json:"pending,omitempty" yaml:"pending,omitempty"`
	StorageError string        `json:"storageError,omitempty" yaml:"storageError,omitempty"`
}

func newStatusView(s syncengine.SyncStatus) statusView {
	v := statusView{
		Online:       s.Online,
		LastSync:     s.LastSync,
		InProgress:   s.InProgress,
		PendingCount: len(s.Pending),
		StorageError: s.StorageError,
	}
	for _, op := range s.Pending {
		v.Pending = append(v.Pending, newPendingView(op))
	}
	return v
}

func newStatusCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, the last sync time and pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			return printStatus(cmd.OutOrStdout(), output, newStatusView(rt.engine.GetSyncStatus()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func printStatus(w io.Writer, format string, v statusView) error {
	if done, err := writeStructured(w, format, v); done {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Server:   "), onlineLabel(v.Online))
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Last sync:"), formatTime(v.LastSync))
	if v.InProgress {
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Sync:     "), warnStyle.Render("in progress"))
	}
	pending := okStyle.Render("0")
	if v.PendingCount > 0 {
		pending = warnStyle.Render(fmt.Sprint(v.PendingCount))
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Pending:  "), pending)
	if v.StorageError != "" {
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Storage:  "), errStyle.Render(v.StorageError))
	}
	return nil
}
