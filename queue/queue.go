// Package queue is the durable FIFO log of mutations that still need to
// reach the server.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/cyp0633/libcaldora-sync/store"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
)

// StoreKey is where the queue persists itself.
const StoreKey = "davsync:pending"

// Queue keeps its operations in memory and writes the whole log through to
// the store after every change. Persistence failures never reach the caller:
// the in-memory log stays authoritative and the failure is logged and
// reported to the handler set with OnPersistError.
type Queue struct {
	mu  sync.Mutex
	ops []Operation

	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	hookMu         sync.RWMutex
	onPersistError func(error)
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New loads the queue persisted in s. Corrupt entries are dropped with a
// warning; a corrupt log yields an empty queue.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ops = q.load()
	return q
}

func (q *Queue) load() []Operation {
	raw, err := q.store.Get(StoreKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			q.logger.Warn("failed to load pending operations", "error", err)
		}
		return nil
	}

	var records []operationRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		q.logger.Warn("discarding corrupt pending operation log", "error", err)
		return nil
	}

	ops := make([]Operation, 0, len(records))
	for i, rec := range records {
		op, err := decodeOperation(rec)
		if err != nil {
			q.logger.Warn("dropping invalid pending operation", "index", i, "id", rec.ID, "error", err)
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) > 0 {
		q.logger.Info("loaded pending operations", "count", len(ops))
	}
	return ops
}

// OnPersistError sets the handler called after a failed write to the store.
// It runs outside the queue lock and may call back into the queue.
func (q *Queue) OnPersistError(fn func(error)) {
	q.hookMu.Lock()
	q.onPersistError = fn
	q.hookMu.Unlock()
}

// Enqueue appends op with a fresh ID and timestamp and persists the log
// before returning.
func (q *Queue) Enqueue(n NewOperation) Operation {
	op := Operation{
		ID:          ulid.Make().String(),
		Type:        n.Type,
		Kind:        n.Kind,
		ResourceURL: n.ResourceURL,
		Payload:     n.Payload,
		Timestamp:   q.now(),
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	err := q.persistLocked()
	q.mu.Unlock()

	q.logger.Debug("queued pending operation",
		"id", op.ID, "type", op.Type, "kind", op.Kind, "collection", op.ResourceURL)
	q.report(err)
	return op
}

// List returns the operations in creation order.
func (q *Queue) List() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// ForCollection returns the operations targeting the collection at url, in
// creation order.
func (q *Queue) ForCollection(url string) []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Operation
	for _, op := range q.ops {
		if op.ResourceURL == url {
			out = append(out, op)
		}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Remove drops the operation with the given id. Unknown ids are ignored.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	idx := -1
	for i, op := range q.ops {
		if op.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.ops = append(q.ops[:idx:idx], q.ops[idx+1:]...)
	err := q.persistLocked()
	q.mu.Unlock()

	q.report(err)
}

// Rebase records a version the server reported for an event or contact on
// every queued update and delete of that resource, so they are replayed
// against the latest known state. Queued creates are left alone. It returns
// the number of operations changed.
func (q *Queue) Rebase(kind resource.Kind, resourceURL, key string, v resource.Version) int {
	if v.ETag == "" && v.Href == "" {
		return 0
	}

	q.mu.Lock()
	changed := 0
	for i, op := range q.ops {
		if op.Kind != kind || op.ResourceURL != resourceURL || op.Type == OpCreate || op.Payload.Key() != key {
			continue
		}
		if rebased, ok := withVersion(op, v); ok {
			q.ops[i] = rebased
			changed++
		}
	}
	var err error
	if changed > 0 {
		err = q.persistLocked()
	}
	q.mu.Unlock()

	q.report(err)
	return changed
}

// withVersion returns a copy of op whose payload carries v.
func withVersion(op Operation, v resource.Version) (Operation, bool) {
	switch {
	case op.Payload.Event != nil:
		ev := *op.Payload.Event
		if v.ETag != "" {
			ev.ETag = v.ETag
		}
		if v.Href != "" {
			ev.Href = v.Href
		}
		op.Payload.Event = &ev
	case op.Payload.Contact != nil:
		c := *op.Payload.Contact
		if v.ETag != "" {
			c.ETag = v.ETag
		}
		if v.Href != "" {
			c.Href = v.Href
		}
		op.Payload.Contact = &c
	default:
		return op, false
	}
	return op, true
}

// Clear empties the queue. Only an explicit user reset should call it.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.ops = nil
	err := q.persistLocked()
	q.mu.Unlock()

	q.report(err)
}

func (q *Queue) persistLocked() error {
	records := make([]operationRecord, 0, len(q.ops))
	for _, op := range q.ops {
		rec, err := encodeOperation(op)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode pending operations: %w", err)
	}
	if err := q.store.Set(StoreKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist pending operations: %w", err)
	}
	return nil
}

func (q *Queue) report(err error) {
	if err == nil {
		return
	}
	q.logger.Warn("pending operations are not durable", "error", err)

	q.hookMu.RLock()
	fn := q.onPersistError
	q.hookMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
