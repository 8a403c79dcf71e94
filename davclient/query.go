package davclient

import (
	"context"
	"fmt"

	"github.com/cyp0633/libcaldora-sync/internal/xml"
	"github.com/cyp0633/libcaldora-sync/resource"
)

// FetchEvents runs a calendar-query against cal. With a window only events
// the server considers overlapping it are returned.
func (c *Client) FetchEvents(ctx context.Context, cal resource.Collection, window *resource.DateRange) ([]resource.Event, error) {
	var tr *xml.TimeRange
	if window != nil {
		tr = &xml.TimeRange{Start: window.Start, End: window.End}
	}
	ms, err := c.http.DoREPORT(ctx, cal.URL, 1, xml.CalendarQuery(tr))
	if err != nil {
		return nil, fmt.Errorf("failed to execute calendar query: %w", err)
	}

	var events []resource.Event
	for _, r := range ms.Responses {
		data := r.Text(xml.CalendarData)
		if !r.OK() || data == "" {
			continue
		}
		decoded, err := decodeEvents(data + "\r\n")
		if err != nil {
			// One broken object should not hide the rest of the calendar.
			c.logger.Warn("skipping unreadable calendar object", "href", r.Href, "error", err)
			continue
		}
		href := resolve(cal.URL, r.Href)
		etag := r.Text(xml.GetETag)
		for _, ev := range decoded {
			ev.Href, ev.ETag, ev.CalendarURL = href, etag, cal.URL
			events = append(events, ev)
		}
	}
	return events, nil
}

// FetchContacts runs an addressbook-query against book.
func (c *Client) FetchContacts(ctx context.Context, book resource.Collection) ([]resource.Contact, error) {
	ms, err := c.http.DoREPORT(ctx, book.URL, 1, xml.AddressbookQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to execute addressbook query: %w", err)
	}

	var contacts []resource.Contact
	for _, r := range ms.Responses {
		data := r.Text(xml.AddressData)
		if !r.OK() || data == "" {
			continue
		}
		decoded, err := decodeContacts(data + "\r\n")
		if err != nil {
			c.logger.Warn("skipping unreadable vcard", "href", r.Href, "error", err)
			continue
		}
		href := resolve(book.URL, r.Href)
		etag := r.Text(xml.GetETag)
		for _, ct := range decoded {
			ct.Href, ct.ETag, ct.AddressBookURL = href, etag, book.URL
			contacts = append(contacts, ct)
		}
	}
	return contacts, nil
}
