package recurrence

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// InfoFromComponent extracts recurrence information from an iCal component.
func InfoFromComponent(comp *ical.Component) Info {
	info := Info{}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil && prop.Value != "" {
		info.RRule = prop.Value
	}
	for _, prop := range comp.Props[ical.PropRecurrenceDates] {
		info.RDates = append(info.RDates, parseDates(prop.Value, prop.Params)...)
	}
	for _, prop := range comp.Props[ical.PropExceptionDates] {
		info.ExDates = append(info.ExDates, parseDates(prop.Value, prop.Params)...)
	}

	return info
}

// TimesFromComponent extracts start and end times from a VEVENT. allDay is
// set for DATE-valued starts. A missing end is derived from DURATION, or
// defaults to one day for all-day events and zero length otherwise.
func TimesFromComponent(comp *ical.Component) (start, end time.Time, allDay, ok bool) {
	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return
	}
	start, err := startProp.DateTime(time.UTC)
	if err != nil {
		return
	}
	allDay = isDateValue(startProp.Params)
	ok = true

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if end, err = endProp.DateTime(time.UTC); err == nil {
			// Same-day DATE values mean one full day.
			if allDay && !end.After(start) {
				end = start.AddDate(0, 0, 1)
			}
			return
		}
	}
	if durationProp := comp.Props.Get(ical.PropDuration); durationProp != nil {
		if d, err := durationProp.Duration(); err == nil {
			end = start.Add(d)
			return
		}
	}
	if allDay {
		end = start.AddDate(0, 0, 1)
	} else {
		end = start
	}
	return
}

// parseDates parses an RDATE or EXDATE value list. DATE values become
// midnight UTC; TZID is honoured for local date-times.
func parseDates(value string, params ical.Params) []time.Time {
	if value == "" {
		return nil
	}

	dateOnly := isDateValue(params)
	loc := time.UTC
	if tzid := params.Get("TZID"); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	var out []time.Time
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if t, ok := parseDate(s, dateOnly, loc); ok {
			out = append(out, t)
		}
	}
	return out
}

func parseDate(s string, dateOnly bool, loc *time.Location) (time.Time, bool) {
	if !dateOnly {
		if t, err := time.Parse("20060102T150405Z", s); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation("20060102T150405", s, loc); err == nil {
			return t, true
		}
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

func isDateValue(params ical.Params) bool {
	return strings.EqualFold(params.Get("VALUE"), "DATE")
}
