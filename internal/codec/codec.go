// Package codec defines the persisted text form of the entities kept in the
// key-value store.
//
// Every entity has an explicit record type with an encode/decode pair.
// Timestamps are written as RFC3339 strings and read back from RFC3339
// strings, unix-millisecond numbers or the legacy {"__type":"Date"} envelope,
// so data written by older builds keeps loading.
package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/goccy/go-json"
)

// Timestamp is a time.Time with a tolerant JSON decoding.
type Timestamp struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTimestamp(data)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp decodes a single JSON timestamp value in any of the accepted
// shapes. null and "" decode to the zero time.
func ParseTimestamp(data []byte) (time.Time, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return time.Time{}, nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string: %w", err)
		}
		return parseTimeString(s)
	case '{':
		var env struct {
			Type  string          `json:"__type"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp envelope: %w", err)
		}
		if env.Type != "Date" {
			return time.Time{}, fmt.Errorf("unexpected envelope type %q", env.Type)
		}
		return ParseTimestamp(env.Value)
	default:
		var ms float64
		if err := json.Unmarshal(data, &ms); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}
}

func parseTimeString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Event is the persisted form of resource.Event.
type Event struct {
	UID         string      `json:"uid"`
	Summary     string      `json:"summary,omitempty"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	Start       Timestamp   `json:"dtstart"`
	End         Timestamp   `json:"dtend"`
	AllDay      bool        `json:"allDay,omitempty"`
	RRule       string      `json:"rrule,omitempty"`
	ExDates     []Timestamp `json:"exdates,omitempty"`
	Href        string      `json:"href,omitempty"`
	ETag        string      `json:"etag,omitempty"`
	CalendarURL string      `json:"calendarUrl,omitempty"`
}

func EncodeEvent(e resource.Event) Event {
	return Event{
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       At(e.Start),
		End:         At(e.End),
		AllDay:      e.AllDay,
		RRule:       e.RRule,
		ExDates:     encodeTimes(e.ExDates),
		Href:        e.Href,
		ETag:        e.ETag,
		CalendarURL: e.CalendarURL,
	}
}

func DecodeEvent(r Event) resource.Event {
	return resource.Event{
		UID:         r.UID,
		Summary:     r.Summary,
		Description: r.Description,
		Location:    r.Location,
		Start:       r.Start.Time,
		End:         r.End.Time,
		AllDay:      r.AllDay,
		RRule:       r.RRule,
		ExDates:     decodeTimes(r.ExDates),
		Href:        r.Href,
		ETag:        r.ETag,
		CalendarURL: r.CalendarURL,
	}
}

func encodeTimes(ts []time.Time) []Timestamp {
	if len(ts) == 0 {
		return nil
	}
	out := make([]Timestamp, len(ts))
	for i, t := range ts {
		out[i] = At(t)
	}
	return out
}

func decodeTimes(ts []Timestamp) []time.Time {
	if len(ts) == 0 {
		return nil
	}
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.Time
	}
	return out
}

// EncodeEvents and DecodeEvents convert whole lists.
func EncodeEvents(events []resource.Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = EncodeEvent(e)
	}
	return out
}

func DecodeEvents(records []Event) []resource.Event {
	out := make([]resource.Event, len(records))
	for i, r := range records {
		out[i] = DecodeEvent(r)
	}
	return out
}
