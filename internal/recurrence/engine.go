// Package recurrence decides whether events, including recurring ones, fall
// inside a time window.
package recurrence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/teambition/rrule-go"
)

// Info contains the recurrence data of an event.
type Info struct {
	RRule   string      // without the "RRULE:" prefix
	RDates  []time.Time // additional occurrences
	ExDates []time.Time // excluded occurrences
}

// InfoFromEvent extracts the recurrence data carried by a cached event.
func InfoFromEvent(ev resource.Event) Info {
	return Info{RRule: ev.RRule, ExDates: ev.ExDates}
}

// Engine expands recurrence rules. The zero value is not usable; use
// NewEngine.
type Engine struct {
	// maxOccurrences caps how many expanded occurrences are inspected per
	// event.
	maxOccurrences int
	logger         *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{maxOccurrences: 1000, logger: logger}
}

// HasOccurrenceInRange checks if an event starting at masterStart and
// ending at masterEnd has any occurrence overlapping window.
func (e *Engine) HasOccurrenceInRange(masterStart, masterEnd time.Time, info Info, window resource.DateRange) (bool, error) {
	duration := masterEnd.Sub(masterStart)
	if duration < 0 {
		duration = 0
	}

	// Fast path: the master occurrence.
	if window.Overlaps(masterStart, masterEnd) && !isExcluded(masterStart, info.ExDates) {
		return true, nil
	}

	if info.RRule != "" {
		// An occurrence starting before the window can still run into it.
		occurrences, err := e.expand(masterStart, info.RRule, window.Start.Add(-duration), window.End)
		if err != nil {
			return false, fmt.Errorf("failed to check RRULE occurrences: %w", err)
		}
		for _, occ := range occurrences {
			if window.Overlaps(occ, occ.Add(duration)) && !isExcluded(occ, info.ExDates) {
				return true, nil
			}
		}
	}

	for _, rdate := range info.RDates {
		if window.Overlaps(rdate, rdate.Add(duration)) && !isExcluded(rdate, info.ExDates) {
			return true, nil
		}
	}

	return false, nil
}

// Filter returns the events with at least one occurrence in window, in their
// original order. Events without a start time, or whose rule cannot be
// parsed, are kept rather than silently hidden.
func (e *Engine) Filter(events []resource.Event, window resource.DateRange) []resource.Event {
	out := make([]resource.Event, 0, len(events))
	for _, ev := range events {
		if ev.Start.IsZero() {
			out = append(out, ev)
			continue
		}
		end := ev.End
		if end.IsZero() {
			end = ev.Start
			if ev.AllDay {
				end = ev.Start.AddDate(0, 0, 1)
			}
		}

		ok, err := e.HasOccurrenceInRange(ev.Start, end, InfoFromEvent(ev), window)
		if err != nil {
			e.logger.Warn("keeping event with unreadable recurrence", "uid", ev.UID, "error", err)
			ok = true
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out
}

// expand lists RRULE occurrences starting within [from, to].
func (e *Engine) expand(masterStart time.Time, rule string, from, to time.Time) ([]time.Time, error) {
	dtstart := masterStart.UTC().Format("20060102T150405Z")
	set, err := rrule.StrToRRuleSet(fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rule))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE '%s': %w", rule, err)
	}

	occurrences := set.Between(from, to, true)
	if len(occurrences) > e.maxOccurrences {
		occurrences = occurrences[:e.maxOccurrences]
	}
	return occurrences, nil
}

// isExcluded checks if t is in the EXDATE list. Date-only exceptions, stored
// as midnight UTC, exclude every occurrence on that day.
func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, exdate := range exdates {
		if t.Equal(exdate) {
			return true
		}
		if exdate.Location() == time.UTC && exdate.Hour() == 0 && exdate.Minute() == 0 && exdate.Second() == 0 {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			if day.Equal(exdate) {
				return true
			}
		}
	}
	return false
}
