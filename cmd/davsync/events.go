package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/spf13/cobra"
)

type eventView struct {
	UID      string    `json:"uid" yaml:"uid"`
	Summary  string    `json:"summary" yaml:"summary"`
	Start    time.Time `json:"start" yaml:"start"`
	End      time.Time `json:"end" yaml:"end"`
	AllDay   bool      `json:"allDay,omitempty" yaml:"allDay,omitempty"`
	Location string    `json:"location,omitempty" yaml:"location,omitempty"`
	RRule    string    `json:"rrule,omitempty" yaml:"rrule,omitempty"`
	Synced   bool      `json:"synced" yaml:"synced"`
}

func newEventsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read and edit calendar events",
	}
	cmd.AddCommand(newEventsListCmd(c), newEventsAddCmd(c), newEventsDeleteCmd(c))
	return cmd
}

func newEventsListCmd(c *cli) *cobra.Command {
	var from, to, output string
	cmd := &cobra.Command{
		Use:   "list <calendar>",
		Short: "List events of a calendar, from the server when reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := parseWindow(from, to, c.cfg, time.Now())
			if err != nil {
				return err
			}
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			cal, err := findCollection(rt.engine.Cache(), resource.KindCalendar, args[0])
			if err != nil {
				return err
			}
			events, err := rt.engine.Events(cmd.Context(), cal, &window)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), output, events)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", `start of the window, e.g. "today" or "last monday"`)
	cmd.Flags().StringVar(&to, "to", "", `end of the window, e.g. "next friday"`)
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func newEventsAddCmd(c *cli) *cobra.Command {
	var (
		ev         resource.Event
		start, end string
		duration   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add <calendar>",
		Short: "Create an event; it is queued when the server is unreachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			var err error
			if ev.Start, err = parseTime(start, now); err != nil {
				return err
			}
			switch {
			case end != "":
				if ev.End, err = parseTime(end, now); err != nil {
					return err
				}
			case ev.AllDay:
				ev.End = ev.Start.AddDate(0, 0, 1)
			default:
				ev.End = ev.Start.Add(duration)
			}
			if ev.AllDay {
				ev.Start = midnight(ev.Start)
				ev.End = midnight(ev.End)
			}
			if !ev.End.After(ev.Start) {
				return fmt.Errorf("event must end after it starts")
			}

			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			cal, err := findCollection(rt.engine.Cache(), resource.KindCalendar, args[0])
			if err != nil {
				return err
			}
			created, err := rt.engine.CreateEvent(cmd.Context(), cal, ev)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s%s\n", created.UID, queuedNote(rt))
			return nil
		},
	}
	cmd.Flags().StringVar(&ev.Summary, "summary", "", "event title")
	cmd.Flags().StringVar(&ev.Location, "location", "", "event location")
	cmd.Flags().StringVar(&ev.Description, "description", "", "event description")
	cmd.Flags().StringVar(&ev.RRule, "rrule", "", `recurrence rule, e.g. "FREQ=WEEKLY;COUNT=4"`)
	cmd.Flags().BoolVar(&ev.AllDay, "all-day", false, "all-day event")
	cmd.Flags().StringVar(&start, "start", "", `start time, e.g. "tomorrow at 10am"`)
	cmd.Flags().StringVar(&end, "end", "", "end time (default start plus --duration)")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "length of the event when --end is not set")
	_ = cmd.MarkFlagRequired("summary")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func newEventsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <calendar> <uid>",
		Short: "Delete an event by UID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			cal, err := findCollection(rt.engine.Cache(), resource.KindCalendar, args[0])
			if err != nil {
				return err
			}
			entry, ok := rt.engine.Cache().LastKnownEvents(cal.URL).Get()
			if !ok {
				return fmt.Errorf("no cached events for %s; list them first", collectionLabel(cal))
			}
			i := slices.IndexFunc(entry.Items, func(e resource.Event) bool { return e.UID == args[1] })
			if i < 0 {
				return fmt.Errorf("event %s not found in %s", args[1], collectionLabel(cal))
			}
			if err := rt.engine.DeleteEvent(cmd.Context(), cal, entry.Items[i]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s%s\n", args[1], queuedNote(rt))
			return nil
		},
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func printEvents(w io.Writer, format string, events []resource.Event) error {
	slices.SortFunc(events, func(a, b resource.Event) int { return a.Start.Compare(b.Start) })
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{
			UID:      ev.UID,
			Summary:  ev.Summary,
			Start:    ev.Start,
			End:      ev.End,
			AllDay:   ev.AllDay,
			Location: ev.Location,
			RRule:    ev.RRule,
			Synced:   ev.ETag != "",
		})
	}
	if done, err := writeStructured(w, format, views); done {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No events in this window."))
		return nil
	}

	t := newTable("START", "END", "SUMMARY", "LOCATION", "UID")
	for _, v := range views {
		start, end := v.Start.Local().Format("2006-01-02 15:04"), v.End.Local().Format("2006-01-02 15:04")
		if v.AllDay {
			start, end = v.Start.Format(time.DateOnly), v.End.Format(time.DateOnly)
		}
		summary := v.Summary
		if !v.Synced {
			summary += warnStyle.Render(" *")
		}
		if v.RRule != "" {
			summary += dimStyle.Render(" ↻")
		}
		t.Row(start, end, summary, v.Location, v.UID)
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
