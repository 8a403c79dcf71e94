// Package resource holds the data model shared by the cache, the pending
// operation queue, the sync engine and the DAV client.
package resource

import "time"

// CollectionKind tells calendars and address books apart.
type CollectionKind string

const (
	KindCalendar    CollectionKind = "calendar"
	KindAddressBook CollectionKind = "addressbook"
)

// Kind is the resource class a pending operation targets.
type Kind string

const (
	KindEvent      Kind = "event"
	KindContact    Kind = "contact"
	KindCollection Kind = "collection"
)

// ResourceKind returns the kind of item stored in collections of this kind.
func (k CollectionKind) ResourceKind() Kind {
	if k == KindAddressBook {
		return KindContact
	}
	return KindEvent
}

// Collection is a calendar or an address book on the remote server.
// Collections are replaced by value, never mutated in place.
type Collection struct {
	// URL is the stable identifier of the collection.
	URL         string         `json:"url"`
	Kind        CollectionKind `json:"kind"`
	DisplayName string         `json:"displayName"`
	// Color is only meaningful for calendars, e.g. "#FF9500".
	Color string `json:"color,omitempty"`
}

// Stub builds a minimal collection that carries only what a remote call
// needs to address it.
func Stub(kind CollectionKind, url string) Collection {
	return Collection{URL: url, Kind: kind}
}

// CollectionChanges lists property changes for a collection. Nil fields are
// left untouched.
type CollectionChanges struct {
	DisplayName *string `json:"displayName,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// Apply returns a copy of c with the changes applied.
func (ch CollectionChanges) Apply(c Collection) Collection {
	if ch.DisplayName != nil {
		c.DisplayName = *ch.DisplayName
	}
	if ch.Color != nil {
		c.Color = *ch.Color
	}
	return c
}

// Empty reports whether the change set modifies nothing.
func (ch CollectionChanges) Empty() bool {
	return ch.DisplayName == nil && ch.Color == nil
}

// Event is a calendar object (VEVENT).
type Event struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"dtstart"`
	End         time.Time `json:"dtend"`
	AllDay      bool      `json:"allDay,omitempty"`
	// RRule is the raw recurrence rule without the "RRULE:" prefix.
	RRule   string      `json:"rrule,omitempty"`
	ExDates []time.Time `json:"exdates,omitempty"`

	// Href is the object URL on the server, empty until the server knows it.
	Href string `json:"href,omitempty"`
	// ETag is the server version token. An event without one was either
	// created locally and not synced yet, or comes from a stale source.
	ETag string `json:"etag,omitempty"`
	// CalendarURL is the back-reference to the owning calendar. Only the
	// sync engine sets it.
	CalendarURL string `json:"calendarUrl,omitempty"`
}

// Contact is an address book object (vCard).
type Contact struct {
	UID          string `json:"uid"`
	FullName     string `json:"fullName,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization,omitempty"`
	Note         string `json:"note,omitempty"`

	Href string `json:"href,omitempty"`
	ETag string `json:"etag,omitempty"`
	// AddressBookURL is the back-reference to the owning address book. Only
	// the sync engine sets it.
	AddressBookURL string `json:"addressBookUrl,omitempty"`
}

// Version is what the server reports after a successful write.
// Either field may be empty if the server did not say.
type Version struct {
	Href string
	ETag string
}

// DateRange is a half-open time window [Start, End).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether an item spanning [start, end) intersects the
// range. An item with no duration is an instant and overlaps when start lies
// in the range.
func (r DateRange) Overlaps(start, end time.Time) bool {
	if !end.After(start) {
		return !start.Before(r.Start) && start.Before(r.End)
	}
	return start.Before(r.End) && end.After(r.Start)
}

// DefaultWindow is the event window used when a caller does not supply one:
// one month back and three months forward from now.
func DefaultWindow(now time.Time) DateRange {
	return DateRange{
		Start: now.AddDate(0, -1, 0),
		End:   now.AddDate(0, 3, 0),
	}
}
