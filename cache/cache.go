// Package cache provides typed access to cached collections, resources and
// sync timestamps on top of a store.Store.
//
// Reads never fail. Missing, corrupt or legacy-shaped data degrades to an
// empty result and is logged. Writes return the store error so the caller can
// surface it.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/codec"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/cyp0633/libcaldora-sync/store"
	"github.com/goccy/go-json"
	"github.com/samber/mo"
)

const (
	// KeyPrefix namespaces every key the cache writes.
	KeyPrefix = "davsync:"

	// DefaultMaxAge is how long a cached resource list counts as a hit.
	DefaultMaxAge = 24 * time.Hour
)

// Entry is the cached resource list of one collection.
type Entry[T any] struct {
	Items       []T
	LastUpdated time.Time
	ETag        string
}

// Cache is safe for concurrent use. Callers that read-modify-write a resource
// list must serialize that sequence themselves.
type Cache struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	maxAge time.Duration

	// urls remembers every collection URL written through this cache so
	// Clear works on stores that cannot enumerate keys.
	mu   sync.Mutex
	urls map[string]struct{}
}

type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

func New(s store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  s,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		maxAge: DefaultMaxAge,
		urls:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func collectionsKey(kind resource.CollectionKind) string {
	return KeyPrefix + "collections:" + string(kind)
}

func eventsKey(url string) string   { return KeyPrefix + "events:" + url }
func contactsKey(url string) string { return KeyPrefix + "contacts:" + url }
func syncTimeKey(url string) string { return KeyPrefix + "synctime:" + url }

// read returns the raw value for key, or false when it is absent or the
// store failed.
func (c *Cache) read(key string) (string, bool) {
	raw, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return "", false
	}
	return raw, true
}

func (c *Cache) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := c.store.Set(key, string(data)); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func (c *Cache) remember(url string) {
	c.mu.Lock()
	c.urls[url] = struct{}{}
	c.mu.Unlock()
}

// Collections returns the last persisted list of the given kind, empty if none.
func (c *Cache) Collections(kind resource.CollectionKind) []resource.Collection {
	raw, ok := c.read(collectionsKey(kind))
	if !ok {
		return []resource.Collection{}
	}

	var list []resource.Collection
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		c.logger.Warn("discarding corrupt collection list", "kind", kind, "error", err)
		return []resource.Collection{}
	}
	for i := range list {
		// Older snapshots did not record the kind.
		if list[i].Kind == "" {
			list[i].Kind = kind
		}
	}
	return list
}

// StoreCollections replaces the list of the given kind.
func (c *Cache) StoreCollections(kind resource.CollectionKind, list []resource.Collection) error {
	if list == nil {
		list = []resource.Collection{}
	}
	for _, col := range list {
		c.remember(col.URL)
	}
	return c.write(collectionsKey(kind), list)
}

// Events returns the cached events of a calendar, or None when absent or
// older than the max age.
func (c *Cache) Events(url string) mo.Option[Entry[resource.Event]] {
	return freshEntry(c, c.LastKnownEvents(url))
}

// LastKnownEvents ignores the max age. It is the offline fallback.
func (c *Cache) LastKnownEvents(url string) mo.Option[Entry[resource.Event]] {
	entry, ok := readEntry(c, eventsKey(url), func(r codec.Event) resource.Event {
		ev := codec.DecodeEvent(r)
		ev.CalendarURL = url
		return ev
	})
	if !ok {
		return mo.None[Entry[resource.Event]]()
	}
	return mo.Some(entry)
}

// StoreEvents replaces the cached events of a calendar and refreshes its
// timestamp. Every item is stamped with the calendar URL.
func (c *Cache) StoreEvents(url string, items []resource.Event, etag string) error {
	records := make([]codec.Event, len(items))
	for i, ev := range items {
		ev.CalendarURL = url
		records[i] = codec.EncodeEvent(ev)
	}
	c.remember(url)
	return c.write(eventsKey(url), entryRecord[codec.Event]{
		Items:       records,
		LastUpdated: codec.At(c.now()),
		ETag:        etag,
	})
}

// Contacts returns the cached contacts of an address book, or None when
// absent or older than the max age.
func (c *Cache) Contacts(url string) mo.Option[Entry[resource.Contact]] {
	return freshEntry(c, c.LastKnownContacts(url))
}

// LastKnownContacts ignores the max age.
func (c *Cache) LastKnownContacts(url string) mo.Option[Entry[resource.Contact]] {
	entry, ok := readEntry(c, contactsKey(url), func(r resource.Contact) resource.Contact {
		r.AddressBookURL = url
		return r
	})
	if !ok {
		return mo.None[Entry[resource.Contact]]()
	}
	return mo.Some(entry)
}

func (c *Cache) StoreContacts(url string, items []resource.Contact, etag string) error {
	records := make([]resource.Contact, len(items))
	for i, ct := range items {
		ct.AddressBookURL = url
		records[i] = ct
	}
	c.remember(url)
	return c.write(contactsKey(url), entryRecord[resource.Contact]{
		Items:       records,
		LastUpdated: codec.At(c.now()),
		ETag:        etag,
	})
}

// TouchSyncTime records now as the last confirmed sync of url.
func (c *Cache) TouchSyncTime(url string) error {
	c.remember(url)
	return c.write(syncTimeKey(url), codec.At(c.now()))
}

// SyncTime returns the last confirmed sync of url.
func (c *Cache) SyncTime(url string) mo.Option[time.Time] {
	raw, ok := c.read(syncTimeKey(url))
	if !ok {
		return mo.None[time.Time]()
	}
	t, err := codec.ParseTimestamp([]byte(raw))
	if err != nil || t.IsZero() {
		c.logger.Warn("discarding corrupt sync time", "url", url, "error", err)
		return mo.None[time.Time]()
	}
	return mo.Some(t)
}

// NeedsRefresh reports whether url was never synced or its last confirmed
// sync is at least threshold old.
func (c *Cache) NeedsRefresh(url string, threshold time.Duration) bool {
	last, ok := c.SyncTime(url).Get()
	if !ok {
		return true
	}
	return c.now().Sub(last) >= threshold
}

// Clear removes every key the cache knows about. Keys of other components
// sharing the store are left alone.
func (c *Cache) Clear() error {
	keys := []string{
		collectionsKey(resource.KindCalendar),
		collectionsKey(resource.KindAddressBook),
	}

	urls := make(map[string]struct{})
	c.mu.Lock()
	for u := range c.urls {
		urls[u] = struct{}{}
	}
	c.mu.Unlock()
	for _, kind := range []resource.CollectionKind{resource.KindCalendar, resource.KindAddressBook} {
		for _, col := range c.Collections(kind) {
			urls[col.URL] = struct{}{}
		}
	}
	for u := range urls {
		keys = append(keys, eventsKey(u), contactsKey(u), syncTimeKey(u))
	}

	if lister, ok := c.store.(store.Lister); ok {
		for _, prefix := range []string{"events:", "contacts:", "synctime:"} {
			found, err := lister.Keys(KeyPrefix + prefix)
			if err != nil {
				c.logger.Warn("failed to list cache keys", "prefix", prefix, "error", err)
				continue
			}
			keys = append(keys, found...)
		}
	}

	var errs []error
	for _, key := range keys {
		if err := c.store.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", key, err))
		}
	}

	c.mu.Lock()
	c.urls = make(map[string]struct{})
	c.mu.Unlock()
	return errors.Join(errs...)
}

// IsFresh reports whether an entry updated at t is still a cache hit.
func (c *Cache) IsFresh(t time.Time) bool {
	return !t.IsZero() && c.now().Sub(t) <= c.maxAge
}
