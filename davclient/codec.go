package davclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/recurrence"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
)

const (
	productID = "-//github.com/cyp0633/libcaldora-sync//NONSGML v1.0//EN"

	calendarContentType = "text/calendar; charset=utf-8"
	vcardContentType    = "text/vcard; charset=utf-8"
)

// encodeEvent renders ev as a VCALENDAR holding one VEVENT.
func encodeEvent(ev resource.Event, now time.Time) ([]byte, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, ev.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if !ev.Start.IsZero() {
		if ev.AllDay {
			event.Props.SetDate(ical.PropDateTimeStart, ev.Start)
			if !ev.End.IsZero() {
				event.Props.SetDate(ical.PropDateTimeEnd, ev.End)
			}
		} else {
			event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
			if !ev.End.IsZero() {
				event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)
			}
		}
	}
	setText(event.Props, ical.PropSummary, ev.Summary)
	setText(event.Props, ical.PropDescription, ev.Description)
	setText(event.Props, ical.PropLocation, ev.Location)

	if ev.RRule != "" {
		rule := ical.NewProp(ical.PropRecurrenceRule)
		rule.Value = strings.TrimPrefix(ev.RRule, "RRULE:")
		event.Props.Set(rule)
	}
	if len(ev.ExDates) > 0 {
		values := make([]string, len(ev.ExDates))
		for i, t := range ev.ExDates {
			values[i] = t.UTC().Format("20060102T150405Z")
		}
		exdate := ical.NewProp(ical.PropExceptionDates)
		exdate.Value = strings.Join(values, ",")
		event.Props.Set(exdate)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func setText(props ical.Props, name, value string) {
	if value != "" {
		props.SetText(name, value)
	}
}

// decodeEvents parses calendar data and returns its master VEVENTs.
// Overridden instances (RECURRENCE-ID) are folded into their master.
func decodeEvents(data string) ([]resource.Event, error) {
	cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse iCalendar data: %w", err)
	}

	var events []resource.Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		if comp.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		ev, err := eventFromComponent(comp)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventFromComponent(comp *ical.Component) (resource.Event, error) {
	uid, err := comp.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return resource.Event{}, errors.New("event without UID")
	}
	ev := resource.Event{UID: uid}
	ev.Summary, _ = comp.Props.Text(ical.PropSummary)
	ev.Description, _ = comp.Props.Text(ical.PropDescription)
	ev.Location, _ = comp.Props.Text(ical.PropLocation)

	if start, end, allDay, ok := recurrence.TimesFromComponent(comp); ok {
		ev.Start, ev.End, ev.AllDay = start, end, allDay
	}
	info := recurrence.InfoFromComponent(comp)
	ev.RRule = info.RRule
	ev.ExDates = info.ExDates
	return ev, nil
}

// encodeContact renders c as a vCard 4.0.
func encodeContact(c resource.Contact) ([]byte, error) {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldUID, c.UID)
	name := c.FullName
	if name == "" {
		name = c.UID
	}
	card.SetValue(vcard.FieldFormattedName, name)
	setField(card, vcard.FieldEmail, c.Email)
	setField(card, vcard.FieldTelephone, c.Phone)
	setField(card, vcard.FieldOrganization, c.Organization)
	setField(card, vcard.FieldNote, c.Note)
	vcard.ToV4(card)

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("failed to encode vcard: %w", err)
	}
	return buf.Bytes(), nil
}

func setField(card vcard.Card, field, value string) {
	if value != "" {
		card.SetValue(field, value)
	}
}

// decodeContacts parses one or more vCards.
func decodeContacts(data string) ([]resource.Contact, error) {
	dec := vcard.NewDecoder(strings.NewReader(data))
	var contacts []resource.Contact
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse vcard: %w", err)
		}

		uid := card.Value(vcard.FieldUID)
		if uid == "" {
			return nil, errors.New("vcard without UID")
		}
		contacts = append(contacts, resource.Contact{
			UID:          uid,
			FullName:     card.PreferredValue(vcard.FieldFormattedName),
			Email:        card.PreferredValue(vcard.FieldEmail),
			Phone:        card.PreferredValue(vcard.FieldTelephone),
			Organization: card.PreferredValue(vcard.FieldOrganization),
			Note:         card.Value(vcard.FieldNote),
		})
	}
	return contacts, nil
}
