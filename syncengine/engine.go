// Package syncengine reconciles the local cache of calendars and address
// books with a DAV server under intermittent connectivity.
//
// Every mutation is applied to the cache first. It is then either confirmed
// by the server or kept in the pending queue for replay, so a user-authored
// change is never lost silently. Version conflicts are the one failure
// returned to the caller.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyp0633/libcaldora-sync/cache"
	"github.com/cyp0633/libcaldora-sync/internal/codec"
	"github.com/cyp0633/libcaldora-sync/internal/metrics"
	"github.com/cyp0633/libcaldora-sync/internal/recurrence"
	"github.com/cyp0633/libcaldora-sync/network"
	"github.com/cyp0633/libcaldora-sync/queue"
	"github.com/cyp0633/libcaldora-sync/status"
	"github.com/cyp0633/libcaldora-sync/store"
	"github.com/goccy/go-json"
	"github.com/samber/mo"
)

const (
	// DefaultRefreshThreshold is how long after a confirmed sync a
	// collection is considered current.
	DefaultRefreshThreshold = 5 * time.Minute

	statusKey = cache.KeyPrefix + "status"
)

// Config holds the engine's collaborators. Client, Store and Monitor are
// required.
type Config struct {
	Client  ResourceClient
	Store   store.Store
	Monitor Monitor
	Logger  *slog.Logger

	// RefreshThreshold overrides DefaultRefreshThreshold.
	RefreshThreshold time.Duration
	// MaxCacheAge overrides cache.DefaultMaxAge.
	MaxCacheAge time.Duration
	// Clock replaces time.Now.
	Clock func() time.Time
}

// SyncStatus is a point-in-time view of the engine.
type SyncStatus struct {
	Online     bool
	LastSync   *time.Time
	Pending    []queue.Operation
	InProgress bool
	// StorageError describes the last failed write to the store, if any.
	// It stays set until the cache is cleared.
	StorageError string
}

// Snapshot is the persisted form of SyncStatus, readable by a process that
// has not checked anything live yet.
type Snapshot struct {
	Online       bool       `json:"online" yaml:"online"`
	LastSync     *time.Time `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
	InProgress   bool       `json:"inProgress" yaml:"inProgress"`
	PendingCount int        `json:"pendingCount" yaml:"pendingCount"`
	StorageError string     `json:"storageError,omitempty" yaml:"storageError,omitempty"`
	SavedAt      time.Time  `json:"savedAt" yaml:"savedAt"`
}

type snapshotRecord struct {
	Online       bool             `json:"online"`
	LastSync     *codec.Timestamp `json:"lastSync,omitempty"`
	InProgress   bool             `json:"inProgress"`
	PendingCount int              `json:"pendingCount"`
	StorageError string           `json:"storageError,omitempty"`
	SavedAt      codec.Timestamp  `json:"savedAt"`
}

// ListenerID identifies a sync listener.
type ListenerID = status.ID

type Engine struct {
	client     ResourceClient
	store      store.Store
	cache      *cache.Cache
	queue      *queue.Queue
	monitor    Monitor
	statuses   *status.Broadcaster[SyncStatus]
	recurrence *recurrence.Engine
	locks      *keyedMutex
	inflight   *inflightSet
	logger     *slog.Logger
	now        func() time.Time

	refreshThreshold time.Duration

	syncing atomic.Bool

	mu           sync.Mutex
	lastSync     *time.Time
	storageError string

	background  sync.WaitGroup
	closed      atomic.Bool
	unsubscribe func()
}

// New wires an engine over cfg. The pending queue and the last sync time are
// loaded from the store, and the engine starts listening for connectivity
// transitions; call Close to stop.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, errors.New("syncengine: client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("syncengine: store is required")
	}
	if cfg.Monitor == nil {
		return nil, errors.New("syncengine: monitor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	threshold := cfg.RefreshThreshold
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	cacheOpts := []cache.Option{cache.WithLogger(logger), cache.WithClock(now)}
	if cfg.MaxCacheAge > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxAge(cfg.MaxCacheAge))
	}

	e := &Engine{
		client:           cfg.Client,
		store:            cfg.Store,
		cache:            cache.New(cfg.Store, cacheOpts...),
		queue:            queue.New(cfg.Store, queue.WithLogger(logger), queue.WithClock(now)),
		monitor:          cfg.Monitor,
		statuses:         status.NewBroadcaster[SyncStatus](logger),
		recurrence:       recurrence.NewEngine(logger),
		locks:            newKeyedMutex(),
		inflight:         newInflightSet(),
		logger:           logger,
		now:              now,
		refreshThreshold: threshold,
	}
	e.queue.OnPersistError(e.reportStorageError)

	if snap, ok := e.LastKnownStatus().Get(); ok && snap.LastSync != nil {
		last := *snap.LastSync
		e.lastSync = &last
	}
	metrics.SetPending(e.queue.Len())
	metrics.SetOnline(e.monitor.Online())

	e.unsubscribe = e.monitor.Subscribe(e.onTransition)
	return e, nil
}

// Cache exposes the resource cache for read-only callers such as the CLI.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Queue exposes the pending-operation queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Close stops reacting to connectivity changes and waits for a running
// automatic sync to finish.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.unsubscribe()
	e.background.Wait()
	return nil
}

// onTransition starts exactly one background full sync per offline to
// online transition. Its failures are only logged.
func (e *Engine) onTransition(tr network.Transition) {
	metrics.SetOnline(tr.Online)
	e.publish()

	if !tr.Online || e.closed.Load() {
		return
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()

		result, err := e.FullSync(context.Background(), FullSyncOptions{})
		switch {
		case err != nil:
			e.logger.Warn("automatic sync failed", "error", err)
		case len(result.Errors) > 0:
			e.logger.Warn("automatic sync finished with errors", "errors", errors.Join(result.Errors...))
		default:
			e.logger.Info("automatic sync finished", "replayed", result.Replay.Replayed)
		}
	}()
}

// GetSyncStatus never fails.
func (e *Engine) GetSyncStatus() SyncStatus {
	e.mu.Lock()
	var last *time.Time
	if e.lastSync != nil {
		t := *e.lastSync
		last = &t
	}
	storageError := e.storageError
	e.mu.Unlock()

	return SyncStatus{
		Online:       e.monitor.Online(),
		LastSync:     last,
		Pending:      e.queue.List(),
		InProgress:   e.syncing.Load(),
		StorageError: storageError,
	}
}

// LastKnownStatus returns the snapshot persisted by the last status change,
// possibly written by another process.
func (e *Engine) LastKnownStatus() mo.Option[Snapshot] {
	raw, err := e.store.Get(statusKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("failed to read status snapshot", "error", err)
		}
		return mo.None[Snapshot]()
	}

	var rec snapshotRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		e.logger.Warn("discarding corrupt status snapshot", "error", err)
		return mo.None[Snapshot]()
	}
	snap := Snapshot{
		Online:       rec.Online,
		InProgress:   rec.InProgress,
		PendingCount: rec.PendingCount,
		StorageError: rec.StorageError,
		SavedAt:      rec.SavedAt.Time,
	}
	if rec.LastSync != nil && !rec.LastSync.IsZero() {
		t := rec.LastSync.Time
		snap.LastSync = &t
	}
	return mo.Some(snap)
}

// AddSyncListener registers fn for every status change.
func (e *Engine) AddSyncListener(fn func(SyncStatus)) ListenerID {
	id, _ := e.statuses.Subscribe(fn)
	return id
}

// RemoveSyncListener unregisters a listener. Unknown ids are ignored.
func (e *Engine) RemoveSyncListener(id ListenerID) {
	e.statuses.Unsubscribe(id)
}

// publish persists a status snapshot and notifies listeners.
func (e *Engine) publish() {
	st := e.GetSyncStatus()
	metrics.SetPending(len(st.Pending))

	rec := snapshotRecord{
		Online:       st.Online,
		InProgress:   st.InProgress,
		PendingCount: len(st.Pending),
		StorageError: st.StorageError,
		SavedAt:      codec.At(e.now()),
	}
	if st.LastSync != nil {
		ts := codec.At(*st.LastSync)
		rec.LastSync = &ts
	}
	if data, err := json.Marshal(rec); err != nil {
		e.logger.Warn("failed to encode status snapshot", "error", err)
	} else if err := e.store.Set(statusKey, string(data)); err != nil {
		e.logger.Warn("failed to persist status snapshot", "error", err)
	}

	e.statuses.Publish(st)
}

// reportStorageError records a failed store write for the status stream.
func (e *Engine) reportStorageError(err error) {
	if err == nil {
		return
	}
	e.logger.Warn("storage write failed", "error", err)

	e.mu.Lock()
	e.storageError = err.Error()
	e.mu.Unlock()
}

// ClearCache drops every cached collection and resource and empties the
// pending queue. Queued mutations are lost; only an explicit user reset
// should call it.
func (e *Engine) ClearCache() error {
	e.mu.Lock()
	e.storageError = ""
	e.lastSync = nil
	e.mu.Unlock()

	err := e.cache.Clear()
	e.queue.Clear()

	e.publish()
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
