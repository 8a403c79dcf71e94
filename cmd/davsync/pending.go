package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cyp0633/libcaldora-sync/queue"
	"github.com/spf13/cobra"
)

type pendingView struct {
	ID          string    `json:"id" yaml:"id"`
	Type        string    `json:"type" yaml:"type"`
	Kind        string    `json:"kind" yaml:"kind"`
	Target      string    `json:"target" yaml:"target"`
	ResourceURL string    `json:"resourceUrl" yaml:"resourceUrl"`
	Queued      time.Time `json:"queued" yaml:"queued"`
}

func newPendingView(op queue.Operation) pendingView {
	return pendingView{
		ID:          op.ID,
		Type:        string(op.Type),
		Kind:        string(op.Kind),
		Target:      describePayload(op),
		ResourceURL: op.ResourceURL,
		Queued:      op.Timestamp,
	}
}

// describePayload names the resource an operation targets for humans.
func describePayload(op queue.Operation) string {
	p := op.Payload
	switch {
	case p.Event != nil && p.Event.Summary != "":
		return fmt.Sprintf("%q (%s)", p.Event.Summary, p.Event.UID)
	case p.Contact != nil && p.Contact.FullName != "":
		return fmt.Sprintf("%q (%s)", p.Contact.FullName, p.Contact.UID)
	case p.Collection != nil:
		return collectionLabel(*p.Collection)
	}
	return p.Key()
}

func newPendingCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect or discard changes waiting to be replayed",
	}

	var output string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ops := queue.New(s, queue.WithLogger(c.logger)).List()
			return printPending(cmd.OutOrStdout(), output, ops)
		},
	}
	list.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued operation without replaying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to discard local changes without --yes")
			}
			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			q := queue.New(s, queue.WithLogger(c.logger))
			n := q.Len()
			q.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "discarded %d pending operation(s)\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm discarding local changes")

	cmd.AddCommand(list, clearCmd)
	return cmd
}

func printPending(w io.Writer, format string, ops []queue.Operation) error {
	views := make([]pendingView, 0, len(ops))
	for _, op := range ops {
		views = append(views, newPendingView(op))
	}
	if done, err := writeStructured(w, format, views); done {
		return err
	}

	if len(views) == 0 {
		fmt.Fprintln(w, okStyle.Render("No pending operations."))
		return nil
	}
	t := newTable("#", "TYPE", "KIND", "TARGET", "QUEUED")
	for i, v := range views {
		t.Row(fmt.Sprint(i+1), v.Type, v.Kind, v.Target, v.Queued.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
