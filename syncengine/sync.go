package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/metrics"
	"github.com/cyp0633/libcaldora-sync/resource"
	"golang.org/x/sync/errgroup"
)

// FullSyncOptions tunes a full sync. The zero value refreshes events and
// contacts of every collection that is due, over the default window.
type FullSyncOptions struct {
	// ForceRefresh ignores the per-collection refresh threshold.
	ForceRefresh bool
	SkipEvents   bool
	SkipContacts bool
	// Window bounds the event refresh. Nil means resource.DefaultWindow.
	Window *resource.DateRange
}

// SyncResult reports a full sync. Success is false only when the sync could
// not run at all; partial failures are listed in Errors.
type SyncResult struct {
	Success      bool
	Calendars    []resource.Collection
	AddressBooks []resource.Collection
	// Refreshed lists the collection URLs whose resources were fetched.
	Refreshed []string
	Replay    ReplayResult
	Errors    []error

	StartedAt  time.Time
	FinishedAt time.Time
}

// FullSync discovers collections, refreshes their resources, replays the
// pending queue and records the sync time. Only one full sync runs at a
// time; a concurrent call fails immediately with resource.ErrSyncInProgress.
//
// A nil error comes with Success set, even if Errors is not empty. Once
// started, a sync is not cancelled with ctx.
func (e *Engine) FullSync(ctx context.Context, opts FullSyncOptions) (*SyncResult, error) {
	ctx = context.WithoutCancel(ctx)
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, resource.ErrSyncInProgress
	}

	result := &SyncResult{StartedAt: e.now()}
	start := time.Now()
	e.publish()
	defer func() {
		result.FinishedAt = e.now()
		e.syncing.Store(false)
		metrics.ObserveSync(start, result.Success)
		e.publish()
	}()

	if !e.monitor.Online() {
		err := fmt.Errorf("full sync: %w", resource.ErrOffline)
		result.Errors = append(result.Errors, err)
		return result, err
	}

	e.logger.Info("full sync started", "force", opts.ForceRefresh)

	cals, books, err := e.discover(ctx)
	if err != nil {
		err = fmt.Errorf("full sync: %w", err)
		result.Errors = append(result.Errors, err)
		e.logger.Warn("full sync aborted", "error", err)
		return result, err
	}
	result.Calendars, result.AddressBooks = cals, books

	window := e.window(opts.Window)
	if !opts.SkipEvents {
		for _, cal := range cals {
			refreshed, err := e.syncCollection(ctx, cal, opts.ForceRefresh, window)
			if err != nil {
				result.Errors = append(result.Errors, err)
			} else if refreshed {
				result.Refreshed = append(result.Refreshed, cal.URL)
			}
		}
	}
	if !opts.SkipContacts {
		for _, book := range books {
			refreshed, err := e.syncCollection(ctx, book, opts.ForceRefresh, window)
			if err != nil {
				result.Errors = append(result.Errors, err)
			} else if refreshed {
				result.Refreshed = append(result.Refreshed, book.URL)
			}
		}
	}

	result.Replay = e.ProcessPendingOperations(ctx)
	for _, f := range result.Replay.Failed {
		result.Errors = append(result.Errors, fmt.Errorf("replay %s %s: %w", f.Operation.Type, f.Operation.Kind, f.Err))
	}

	now := e.now()
	e.mu.Lock()
	e.lastSync = &now
	e.mu.Unlock()
	result.Success = true

	e.logger.Info("full sync finished",
		"calendars", len(cals),
		"addressbooks", len(books),
		"refreshed", len(result.Refreshed),
		"replayed", result.Replay.Replayed,
		"conflicts", len(result.Replay.Conflicts),
		"errors", len(result.Errors),
		"duration", time.Since(start))
	return result, nil
}

// discover fetches both collection kinds concurrently and replaces the
// cached lists. Pending collection changes are re-applied on top.
func (e *Engine) discover(ctx context.Context) (cals, books []resource.Collection, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		var err error
		cals, err = e.client.DiscoverCollections(gctx, resource.KindCalendar)
		metrics.ObserveRemote("discover_calendars", start, err)
		if err != nil {
			return fmt.Errorf("failed to discover calendars: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		var err error
		books, err = e.client.DiscoverCollections(gctx, resource.KindAddressBook)
		metrics.ObserveRemote("discover_addressbooks", start, err)
		if err != nil {
			return fmt.Errorf("failed to discover address books: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	cals = e.storeDiscovered(resource.KindCalendar, cals)
	books = e.storeDiscovered(resource.KindAddressBook, books)
	return cals, books, nil
}

func (e *Engine) storeDiscovered(kind resource.CollectionKind, list []resource.Collection) []resource.Collection {
	unlock := e.locks.Lock(collectionsLockKey(kind))
	defer unlock()

	for i := range list {
		list[i].Kind = kind
		list[i] = e.applyPendingCollectionChanges(list[i])
	}
	list = overlayCollections(list, e.inflight.list(collectionsLockKey(kind)))
	if err := e.cache.StoreCollections(kind, list); err != nil {
		e.reportStorageError(err)
	}
	return list
}

func (e *Engine) applyPendingCollectionChanges(col resource.Collection) resource.Collection {
	return overlayCollections([]resource.Collection{col}, e.queue.ForCollection(col.URL))[0]
}

// SyncResourcesForCollection refreshes the resources of one collection if
// force is set or its last confirmed sync is older than the refresh
// threshold. It reports whether a refresh happened.
func (e *Engine) SyncResourcesForCollection(ctx context.Context, kind resource.CollectionKind, url string, force bool) (bool, error) {
	col := resource.Stub(kind, url)
	for _, known := range e.cache.Collections(kind) {
		if known.URL == url {
			col = known
			break
		}
	}
	return e.syncCollection(ctx, col, force, e.window(nil))
}

func (e *Engine) syncCollection(ctx context.Context, col resource.Collection, force bool, window resource.DateRange) (bool, error) {
	if !force && !e.cache.NeedsRefresh(col.URL, e.refreshThreshold) {
		return false, nil
	}
	if !e.monitor.Online() {
		return false, fmt.Errorf("sync %s: %w", col.URL, resource.ErrOffline)
	}

	start := time.Now()
	switch col.Kind {
	case resource.KindCalendar:
		events, err := e.client.FetchEvents(ctx, col, &window)
		metrics.ObserveRemote("fetch_events", start, err)
		if err != nil {
			return false, fmt.Errorf("failed to fetch events of %s: %w", col.URL, err)
		}
		e.storeFetchedEvents(col.URL, events)
	case resource.KindAddressBook:
		contacts, err := e.client.FetchContacts(ctx, col)
		metrics.ObserveRemote("fetch_contacts", start, err)
		if err != nil {
			return false, fmt.Errorf("failed to fetch contacts of %s: %w", col.URL, err)
		}
		e.storeFetchedContacts(col.URL, contacts)
	default:
		return false, errors.New("unknown collection kind " + string(col.Kind))
	}

	e.logger.Debug("collection refreshed", "kind", col.Kind, "url", col.URL)
	return true, nil
}
