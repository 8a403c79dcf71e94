package xml

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/beevik/etree"
)

const timeRangeFormat = "20060102T150405Z"

// Propfind builds a PROPFIND body asking for props.
func Propfind(props ...Name) *etree.Document {
	doc, root := newDocument(DAV, "propfind")
	prop := createElement(root, Name{DAV, "prop"})
	for _, n := range props {
		createElement(prop, n)
	}
	return doc
}

// TimeRange bounds a calendar-query. Zero ends are left open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// CalendarQuery builds a calendar-query REPORT returning etags and calendar
// data of every VEVENT, optionally limited to tr.
func CalendarQuery(tr *TimeRange) *etree.Document {
	doc, root := newDocument(CalDAV, "calendar-query")
	prop := createElement(root, Name{DAV, "prop"})
	createElement(prop, GetETag)
	createElement(prop, CalendarData)

	filter := createElement(root, Name{CalDAV, "filter"})
	vcal := createElement(filter, Name{CalDAV, "comp-filter"})
	vcal.CreateAttr("name", "VCALENDAR")
	vevent := createElement(vcal, Name{CalDAV, "comp-filter"})
	vevent.CreateAttr("name", "VEVENT")

	if tr != nil && (!tr.Start.IsZero() || !tr.End.IsZero()) {
		elem := createElement(vevent, Name{CalDAV, "time-range"})
		if !tr.Start.IsZero() {
			elem.CreateAttr("start", tr.Start.UTC().Format(timeRangeFormat))
		}
		if !tr.End.IsZero() {
			elem.CreateAttr("end", tr.End.UTC().Format(timeRangeFormat))
		}
	}
	return doc
}

// AddressbookQuery builds an addressbook-query REPORT returning etags and
// vCard data of every contact.
func AddressbookQuery() *etree.Document {
	doc, root := newDocument(CardDAV, "addressbook-query")
	prop := createElement(root, Name{DAV, "prop"})
	createElement(prop, GetETag)
	createElement(prop, AddressData)
	return doc
}

// Proppatch builds a PROPPATCH body setting each property to its text value.
func Proppatch(set map[Name]string) *etree.Document {
	doc, root := newDocument(DAV, "propertyupdate")
	if len(set) == 0 {
		return doc
	}
	prop := createElement(createElement(root, Name{DAV, "set"}), Name{DAV, "prop"})
	for _, n := range sortedNames(set) {
		createElement(prop, n).SetText(set[n])
	}
	return doc
}

func sortedNames(set map[Name]string) []Name {
	names := slices.Collect(maps.Keys(set))
	slices.SortFunc(names, func(a, b Name) int {
		return cmp.Or(cmp.Compare(a.Space, b.Space), cmp.Compare(a.Local, b.Local))
	})
	return names
}
