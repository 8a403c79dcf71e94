package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/metrics"
	"github.com/cyp0633/libcaldora-sync/queue"
	"github.com/cyp0633/libcaldora-sync/resource"
)

// cachedEvents returns the last known events of a calendar regardless of
// age. Mutations build on it so an expired cache entry is not wiped by an
// offline write.
func (e *Engine) cachedEvents(url string) []resource.Event {
	if entry, ok := e.cache.LastKnownEvents(url).Get(); ok {
		return entry.Items
	}
	return nil
}

func (e *Engine) cachedContacts(url string) []resource.Contact {
	if entry, ok := e.cache.LastKnownContacts(url).Get(); ok {
		return entry.Items
	}
	return nil
}

// overlayPending re-applies queued and in-flight operations of one kind on top of a list
// fetched from the server, so optimistic changes stay visible until they are
// replayed.
func overlayPending[T any](items []T, ops []queue.Operation, kind resource.Kind, key func(T) string, pick func(queue.Payload) (T, bool)) []T {
	for _, op := range ops {
		if op.Kind != kind {
			continue
		}
		item, ok := pick(op.Payload)
		if !ok {
			continue
		}
		if op.Type == queue.OpDelete {
			items = without(items, key(item), key)
		} else {
			items = upsert(items, item, key)
		}
	}
	return items
}

func pickEvent(p queue.Payload) (resource.Event, bool) {
	if p.Event == nil {
		return resource.Event{}, false
	}
	return *p.Event, true
}

func pickContact(p queue.Payload) (resource.Contact, bool) {
	if p.Contact == nil {
		return resource.Contact{}, false
	}
	return *p.Contact, true
}

// overlayCollections applies queued property changes to a discovered list.
func overlayCollections(list []resource.Collection, ops []queue.Operation) []resource.Collection {
	for _, op := range ops {
		if op.Kind != resource.KindCollection || op.Payload.Changes == nil {
			continue
		}
		for i := range list {
			if list[i].URL == op.ResourceURL {
				list[i] = op.Payload.Changes.Apply(list[i])
			}
		}
	}
	return list
}

// unsettled lists the queued and in-flight operations on the resources of a
// collection. The caller holds the collection lock.
func (e *Engine) unsettled(url string) []queue.Operation {
	return append(e.queue.ForCollection(url), e.inflight.list(url)...)
}

// storeFetchedEvents replaces the cached events of url with server data plus
// pending changes and marks the collection as synced.
func (e *Engine) storeFetchedEvents(url string, events []resource.Event) []resource.Event {
	unlock := e.locks.Lock(url)
	defer unlock()

	merged := overlayPending(events, e.unsettled(url), resource.KindEvent, eventKey, pickEvent)
	for i := range merged {
		merged[i].CalendarURL = url
	}
	if err := e.cache.StoreEvents(url, merged, ""); err != nil {
		e.reportStorageError(err)
	}
	if err := e.cache.TouchSyncTime(url); err != nil {
		e.reportStorageError(err)
	}
	return merged
}

func (e *Engine) storeFetchedContacts(url string, contacts []resource.Contact) []resource.Contact {
	unlock := e.locks.Lock(url)
	defer unlock()

	merged := overlayPending(contacts, e.unsettled(url), resource.KindContact, contactKey, pickContact)
	for i := range merged {
		merged[i].AddressBookURL = url
	}
	if err := e.cache.StoreContacts(url, merged, ""); err != nil {
		e.reportStorageError(err)
	}
	if err := e.cache.TouchSyncTime(url); err != nil {
		e.reportStorageError(err)
	}
	return merged
}

func (e *Engine) window(w *resource.DateRange) resource.DateRange {
	if w != nil {
		return *w
	}
	return resource.DefaultWindow(e.now())
}

// Events returns the events of cal overlapping window (the default window
// when nil). Online, it fetches from the server and refreshes the cache. On
// failure or offline it serves the last known cache, however old. An error
// is returned only when the fetch failed and nothing is cached.
func (e *Engine) Events(ctx context.Context, cal resource.Collection, window *resource.DateRange) ([]resource.Event, error) {
	w := e.window(window)

	var fetchErr error
	if e.monitor.Online() {
		start := time.Now()
		events, err := e.client.FetchEvents(ctx, cal, &w)
		metrics.ObserveRemote("fetch_events", start, err)
		if err == nil {
			return e.recurrence.Filter(e.storeFetchedEvents(cal.URL, events), w), nil
		}
		fetchErr = fmt.Errorf("failed to fetch events of %s: %w", cal.URL, err)
		e.logger.Warn("serving cached events", "calendar", cal.URL, "error", err)
	}

	entry, ok := e.cache.LastKnownEvents(cal.URL).Get()
	if !ok {
		return []resource.Event{}, fetchErr
	}
	events := e.recurrence.Filter(entry.Items, w)
	for i := range events {
		events[i].CalendarURL = cal.URL
	}
	return events, nil
}

// Contacts is Events for address books.
func (e *Engine) Contacts(ctx context.Context, book resource.Collection) ([]resource.Contact, error) {
	var fetchErr error
	if e.monitor.Online() {
		start := time.Now()
		contacts, err := e.client.FetchContacts(ctx, book)
		metrics.ObserveRemote("fetch_contacts", start, err)
		if err == nil {
			return e.storeFetchedContacts(book.URL, contacts), nil
		}
		fetchErr = fmt.Errorf("failed to fetch contacts of %s: %w", book.URL, err)
		e.logger.Warn("serving cached contacts", "addressbook", book.URL, "error", err)
	}

	entry, ok := e.cache.LastKnownContacts(book.URL).Get()
	if !ok {
		return []resource.Contact{}, fetchErr
	}
	contacts := entry.Items
	for i := range contacts {
		contacts[i].AddressBookURL = book.URL
	}
	return contacts, nil
}
