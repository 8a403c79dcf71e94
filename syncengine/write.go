package syncengine

import (
	"context"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/metrics"
	"github.com/cyp0633/libcaldora-sync/queue"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/google/uuid"
)

// writeOp describes one optimistic write. The same protocol serves events,
// contacts and collections; only the accessors and the remote call differ.
type writeOp[T any] struct {
	typ  queue.OpType
	kind resource.Kind
	// collectionURL is both the lock key and the queued ResourceURL.
	collectionURL string
	// lockKey defaults to collectionURL.
	lockKey string
	item    T

	key  func(T) string
	load func() []T
	save func([]T) error

	payload queue.Payload
	// remote performs the server call. A zero Version means the server
	// reported nothing new.
	remote func(ctx context.Context) (resource.Version, error)
	// confirm folds the server's version into the item. Nil for deletes.
	confirm func(T, resource.Version) T
}

// optimisticWrite applies w to the cache, then either confirms it on the
// server or queues it for replay. Only version conflicts are returned; the
// optimistic change is rolled back in that case since it is neither
// confirmed nor queued. The remote call is not cancelled with ctx: once the
// cache holds the change, the write runs to completion.
func optimisticWrite[T any](ctx context.Context, e *Engine, w writeOp[T]) (T, error) {
	if w.lockKey == "" {
		w.lockKey = w.collectionURL
	}
	k := w.key(w.item)

	// Writes to one resource reach the server in the order they were issued.
	defer e.locks.Lock(resourceLockKey(w.lockKey, k))()

	unlock := e.locks.Lock(w.lockKey)
	items := w.load()
	prev, hadPrev := find(items, k, w.key)
	if w.typ == queue.OpDelete {
		items = without(items, k, w.key)
	} else {
		items = upsert(items, w.item, w.key)
	}
	if err := w.save(items); err != nil {
		e.reportStorageError(err)
	}

	// Anything behind a queued operation on the same resource queues too.
	queued := !e.monitor.Online() || e.hasPending(w.kind, w.collectionURL, k)
	var settle func()
	if queued {
		e.queue.Enqueue(w.operation())
	} else {
		settle = e.inflight.add(w.lockKey, w.pending())
	}
	unlock()

	if queued {
		e.queued(w.kind)
		return w.item, nil
	}

	start := time.Now()
	ver, err := w.remote(context.WithoutCancel(ctx))
	metrics.ObserveRemote(string(w.typ)+"_"+string(w.kind), start, err)

	switch {
	case err == nil:
		metrics.CountWrite(string(w.kind), metrics.OutcomeConfirmed)
		e.withLock(w.lockKey, func() {
			settle()
			if w.confirm == nil {
				return
			}
			w.item = w.confirm(w.item, ver)
			if err := w.save(upsert(w.load(), w.item, w.key)); err != nil {
				e.reportStorageError(err)
			}
		})
		e.publish()
		return w.item, nil

	case resource.IsConflict(err):
		metrics.CountWrite(string(w.kind), metrics.OutcomeConflict)
		e.logger.Warn("write rejected with version conflict",
			"kind", w.kind, "type", w.typ, "collection", w.collectionURL, "key", k)
		e.withLock(w.lockKey, func() {
			settle()
			current := w.load()
			if hadPrev {
				current = upsert(current, prev, w.key)
			} else {
				current = without(current, k, w.key)
			}
			if err := w.save(current); err != nil {
				e.reportStorageError(err)
			}
		})
		var zero T
		return zero, err

	default:
		e.logger.Info("remote write failed, queued for replay",
			"kind", w.kind, "type", w.typ, "collection", w.collectionURL, "error", err)
		e.withLock(w.lockKey, func() {
			e.queue.Enqueue(w.operation())
			settle()
		})
		e.queued(w.kind)
		return w.item, nil
	}
}

// queued accounts for a write that went to the pending queue. Queue
// persistence problems are reported through the status stream.
func (e *Engine) queued(kind resource.Kind) {
	metrics.CountWrite(string(kind), metrics.OutcomeQueued)
	e.publish()
}

func (w writeOp[T]) operation() queue.NewOperation {
	return queue.NewOperation{
		Type:        w.typ,
		Kind:        w.kind,
		ResourceURL: w.collectionURL,
		Payload:     w.payload,
	}
}

// pending is the operation a refresh overlays while w is in flight.
func (w writeOp[T]) pending() queue.Operation {
	return queue.Operation{
		Type:        w.typ,
		Kind:        w.kind,
		ResourceURL: w.collectionURL,
		Payload:     w.payload,
	}
}

func resourceLockKey(lockKey, key string) string {
	return lockKey + "\x00" + key
}

func (e *Engine) withLock(key string, fn func()) {
	unlock := e.locks.Lock(key)
	defer unlock()
	fn()
}

// hasPending reports whether the queue still holds an operation for the
// resource identified by key.
func (e *Engine) hasPending(kind resource.Kind, collectionURL, key string) bool {
	for _, op := range e.queue.ForCollection(collectionURL) {
		if op.Kind == kind && op.Payload.Key() == key {
			return true
		}
	}
	return false
}

// requireETag enforces that updates and deletes target a resource known to
// the server. A resource whose create is still queued is accepted: replay
// supplies the ETag from the create.
func (e *Engine) requireETag(kind resource.Kind, collectionURL, uid, etag string) error {
	if etag != "" {
		return nil
	}
	for _, op := range e.queue.ForCollection(collectionURL) {
		if op.Kind == kind && op.Type == queue.OpCreate && op.Payload.Key() == uid {
			return nil
		}
	}
	return resource.ErrMissingETag
}

func eventKey(ev resource.Event) string          { return ev.UID }
func contactKey(c resource.Contact) string       { return c.UID }
func collectionKey(c resource.Collection) string { return c.URL }

func confirmEvent(ev resource.Event, v resource.Version) resource.Event {
	if v.ETag != "" {
		ev.ETag = v.ETag
	}
	if v.Href != "" {
		ev.Href = v.Href
	}
	return ev
}

func confirmContact(c resource.Contact, v resource.Version) resource.Contact {
	if v.ETag != "" {
		c.ETag = v.ETag
	}
	if v.Href != "" {
		c.Href = v.Href
	}
	return c
}

func (e *Engine) eventWrite(typ queue.OpType, cal resource.Collection, ev resource.Event) writeOp[resource.Event] {
	ev.CalendarURL = cal.URL
	w := writeOp[resource.Event]{
		typ:           typ,
		kind:          resource.KindEvent,
		collectionURL: cal.URL,
		item:          ev,
		key:           eventKey,
		load:          func() []resource.Event { return e.cachedEvents(cal.URL) },
		save: func(items []resource.Event) error {
			return e.cache.StoreEvents(cal.URL, items, "")
		},
		payload: queue.EventPayload(ev),
		confirm: confirmEvent,
	}
	switch typ {
	case queue.OpCreate:
		w.remote = func(ctx context.Context) (resource.Version, error) { return e.client.CreateEvent(ctx, cal, ev) }
	case queue.OpUpdate:
		w.remote = func(ctx context.Context) (resource.Version, error) { return e.client.UpdateEvent(ctx, cal, ev) }
	case queue.OpDelete:
		w.confirm = nil
		w.remote = func(ctx context.Context) (resource.Version, error) {
			return resource.Version{}, e.client.DeleteEvent(ctx, cal, ev)
		}
	}
	return w
}

func (e *Engine) contactWrite(typ queue.OpType, book resource.Collection, c resource.Contact) writeOp[resource.Contact] {
	c.AddressBookURL = book.URL
	w := writeOp[resource.Contact]{
		typ:           typ,
		kind:          resource.KindContact,
		collectionURL: book.URL,
		item:          c,
		key:           contactKey,
		load:          func() []resource.Contact { return e.cachedContacts(book.URL) },
		save: func(items []resource.Contact) error {
			return e.cache.StoreContacts(book.URL, items, "")
		},
		payload: queue.ContactPayload(c),
		confirm: confirmContact,
	}
	switch typ {
	case queue.OpCreate:
		w.remote = func(ctx context.Context) (resource.Version, error) { return e.client.CreateContact(ctx, book, c) }
	case queue.OpUpdate:
		w.remote = func(ctx context.Context) (resource.Version, error) { return e.client.UpdateContact(ctx, book, c) }
	case queue.OpDelete:
		w.confirm = nil
		w.remote = func(ctx context.Context) (resource.Version, error) {
			return resource.Version{}, e.client.DeleteContact(ctx, book, c)
		}
	}
	return w
}

// CreateEvent adds ev to cal. An empty UID is replaced by a random one. The
// returned event carries the back-reference and, once confirmed, the ETag.
func (e *Engine) CreateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Event, error) {
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	return optimisticWrite(ctx, e, e.eventWrite(queue.OpCreate, cal, ev))
}

// UpdateEvent replaces the event with the same UID. ev must carry the ETag it
// was read with.
func (e *Engine) UpdateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Event, error) {
	if err := e.requireETag(resource.KindEvent, cal.URL, ev.UID, ev.ETag); err != nil {
		return resource.Event{}, err
	}
	return optimisticWrite(ctx, e, e.eventWrite(queue.OpUpdate, cal, ev))
}

func (e *Engine) DeleteEvent(ctx context.Context, cal resource.Collection, ev resource.Event) error {
	if err := e.requireETag(resource.KindEvent, cal.URL, ev.UID, ev.ETag); err != nil {
		return err
	}
	_, err := optimisticWrite(ctx, e, e.eventWrite(queue.OpDelete, cal, ev))
	return err
}

func (e *Engine) CreateContact(ctx context.Context, book resource.Collection, c resource.Contact) (resource.Contact, error) {
	if c.UID == "" {
		c.UID = uuid.NewString()
	}
	return optimisticWrite(ctx, e, e.contactWrite(queue.OpCreate, book, c))
}

func (e *Engine) UpdateContact(ctx context.Context, book resource.Collection, c resource.Contact) (resource.Contact, error) {
	if err := e.requireETag(resource.KindContact, book.URL, c.UID, c.ETag); err != nil {
		return resource.Contact{}, err
	}
	return optimisticWrite(ctx, e, e.contactWrite(queue.OpUpdate, book, c))
}

func (e *Engine) DeleteContact(ctx context.Context, book resource.Collection, c resource.Contact) error {
	if err := e.requireETag(resource.KindContact, book.URL, c.UID, c.ETag); err != nil {
		return err
	}
	_, err := optimisticWrite(ctx, e, e.contactWrite(queue.OpDelete, book, c))
	return err
}

// UpdateCollection renames or recolors a collection through the same
// optimistic protocol.
func (e *Engine) UpdateCollection(ctx context.Context, col resource.Collection, changes resource.CollectionChanges) (resource.Collection, error) {
	if changes.Empty() {
		return col, nil
	}
	updated := changes.Apply(col)
	kind := col.Kind

	return optimisticWrite(ctx, e, writeOp[resource.Collection]{
		typ:           queue.OpUpdate,
		kind:          resource.KindCollection,
		collectionURL: col.URL,
		lockKey:       collectionsLockKey(kind),
		item:          updated,
		key:           collectionKey,
		load:          func() []resource.Collection { return e.cache.Collections(kind) },
		save: func(list []resource.Collection) error {
			return e.cache.StoreCollections(kind, list)
		},
		payload: queue.CollectionPayload(col, changes),
		remote: func(ctx context.Context) (resource.Version, error) {
			return resource.Version{}, e.client.UpdateCollectionProperties(ctx, col, changes)
		},
	})
}

func collectionsLockKey(kind resource.CollectionKind) string {
	return "collections:" + string(kind)
}

func find[T any](items []T, k string, key func(T) string) (T, bool) {
	for _, it := range items {
		if key(it) == k {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// upsert replaces the item with the same key, or appends it.
func upsert[T any](items []T, item T, key func(T) string) []T {
	out := make([]T, 0, len(items)+1)
	replaced := false
	for _, it := range items {
		if key(it) == key(item) {
			out = append(out, item)
			replaced = true
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, item)
	}
	return out
}

func without[T any](items []T, k string, key func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if key(it) != k {
			out = append(out, it)
		}
	}
	return out
}
