package recurrence

import (
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_HasOccurrenceInRange(t *testing.T) {
	engine := NewEngine(nil)

	// Daily meeting from 9-10 AM starting Jan 1, 2024
	masterStart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	masterEnd := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		info     Info
		window   resource.DateRange
		expected bool
	}{
		{"non-recurring in range", Info{}, resource.DateRange{Start: day(1), End: day(2)}, true},
		{"non-recurring out of range", Info{}, resource.DateRange{Start: day(2), End: day(3)}, false},
		{"daily with occurrence in range", Info{RRule: "FREQ=DAILY;COUNT=7"}, resource.DateRange{Start: day(3), End: day(4)}, true},
		{"daily ended before range", Info{RRule: "FREQ=DAILY;COUNT=3"}, resource.DateRange{Start: day(10), End: day(11)}, false},
		{
			"only occurrence excluded",
			Info{RRule: "FREQ=DAILY;COUNT=7", ExDates: []time.Time{time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}},
			resource.DateRange{Start: day(3), End: day(4)},
			false,
		},
		{
			"date-only exclusion",
			Info{RRule: "FREQ=DAILY;COUNT=7", ExDates: []time.Time{day(3)}},
			resource.DateRange{Start: day(3), End: day(4)},
			false,
		},
		{"rdate in range", Info{RDates: []time.Time{time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}}, resource.DateRange{Start: day(31), End: day(31).AddDate(0, 0, 2)}, true},
		{
			"occurrence spanning window start",
			Info{RRule: "FREQ=WEEKLY;COUNT=4"},
			resource.DateRange{Start: time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC), End: time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.HasOccurrenceInRange(masterStart, masterEnd, tt.info, tt.window)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEngine_InvalidRule(t *testing.T) {
	engine := NewEngine(nil)
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	_, err := engine.HasOccurrenceInRange(start, start, Info{RRule: "FREQ=SOMETIMES"},
		resource.DateRange{Start: start.AddDate(0, 1, 0), End: start.AddDate(0, 2, 0)})
	assert.Error(t, err)
}

func TestEngine_Filter(t *testing.T) {
	engine := NewEngine(nil)
	window := resource.DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	events := []resource.Event{
		{UID: "inside", Start: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{UID: "outside", Start: time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 5, 5, 10, 0, 0, 0, time.UTC)},
		{UID: "weekly", Start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), RRule: "FREQ=WEEKLY"},
		{UID: "all-day", Start: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), AllDay: true},
		{UID: "no-start"},
		{UID: "broken-rule", Start: time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC), RRule: "nonsense"},
	}

	var uids []string
	for _, ev := range engine.Filter(events, window) {
		uids = append(uids, ev.UID)
	}
	assert.Equal(t, []string{"inside", "weekly", "all-day", "no-start", "broken-rule"}, uids)
}

const sampleEvent = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly-sync
DTSTAMP:20240101T000000Z
DTSTART:20240101T090000Z
DURATION:PT45M
RRULE:FREQ=WEEKLY;BYDAY=MO
EXDATE:20240108T090000Z,20240115T090000Z
EXDATE;VALUE=DATE:20240122
SUMMARY:Weekly sync
END:VEVENT
END:VCALENDAR
`

func TestFromComponent(t *testing.T) {
	cal, err := ical.NewDecoder(strings.NewReader(strings.ReplaceAll(sampleEvent, "\n", "\r\n"))).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	comp := events[0].Component

	info := InfoFromComponent(comp)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", info.RRule)
	assert.Len(t, info.ExDates, 3)

	start, end, allDay, ok := TimesFromComponent(comp)
	require.True(t, ok)
	assert.False(t, allDay)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, 45*time.Minute, end.Sub(start))

	engine := NewEngine(nil)
	excluded := resource.DateRange{Start: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)}
	ok, err = engine.HasOccurrenceInRange(start, end, info, excluded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimesFromComponent_AllDay(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "holiday")
	prop := ical.NewProp(ical.PropDateTimeStart)
	prop.Value = "20240704"
	prop.Params.Set("VALUE", "DATE")
	comp.Props.Set(prop)

	start, end, allDay, ok := TimesFromComponent(comp)
	require.True(t, ok)
	assert.True(t, allDay)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}
