package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/metrics"
	"github.com/cyp0633/libcaldora-sync/queue"
	"github.com/cyp0633/libcaldora-sync/resource"
)

// ReplayResult reports one pass over the pending queue.
type ReplayResult struct {
	// Replayed counts operations confirmed by the server and removed.
	Replayed int
	// Skipped counts operations held back because an earlier operation on
	// the same resource failed in this pass.
	Skipped int
	// Conflicts were rejected by the server and removed from the queue;
	// replaying them again could only overwrite newer server state.
	Conflicts []ReplayFailure
	// Failed stay queued for the next pass.
	Failed    []ReplayFailure
	Remaining int
}

type ReplayFailure struct {
	Operation queue.Operation
	Err       error
}

// ProcessPendingOperations replays the queue in FIFO order. There is no
// backoff: a failed operation waits for the next full sync or online
// transition. After a failure, later operations on the same resource are
// left in place so per-resource order is kept. A pass runs to the end even
// if ctx is cancelled; cancellation only ends the caller's wait.
func (e *Engine) ProcessPendingOperations(ctx context.Context) ReplayResult {
	ctx = context.WithoutCancel(ctx)

	var result ReplayResult
	defer func() {
		result.Remaining = e.queue.Len()
		e.publish()
	}()

	if !e.monitor.Online() {
		return result
	}

	blocked := make(map[string]bool)
	versions := make(map[string]resource.Version)

	for _, op := range e.queue.List() {
		key := replayKey(op)
		if blocked[key] {
			result.Skipped++
			metrics.CountReplay(metrics.ReplaySkipped)
			continue
		}

		op = carryVersion(op, versions[key])

		start := time.Now()
		ver, err := e.replay(ctx, op)
		metrics.ObserveRemote("replay_"+string(op.Type)+"_"+string(op.Kind), start, err)

		switch {
		case err == nil:
			e.queue.Remove(op.ID)
			result.Replayed++
			metrics.CountReplay(metrics.ReplaySuccess)
			if ver.ETag != "" || ver.Href != "" {
				versions[key] = ver
				e.queue.Rebase(op.Kind, op.ResourceURL, op.Payload.Key(), ver)
				e.applyReplayedVersion(op, ver)
			}
			e.logger.Debug("replayed pending operation", "id", op.ID, "type", op.Type, "kind", op.Kind)

		case resource.IsConflict(err):
			e.queue.Remove(op.ID)
			result.Conflicts = append(result.Conflicts, ReplayFailure{Operation: op, Err: err})
			metrics.CountReplay(metrics.ReplayConflict)
			e.logger.Warn("dropping pending operation after version conflict",
				"id", op.ID, "type", op.Type, "kind", op.Kind, "collection", op.ResourceURL)

		default:
			blocked[key] = true
			result.Failed = append(result.Failed, ReplayFailure{Operation: op, Err: err})
			metrics.CountReplay(metrics.ReplayRetry)
			e.logger.Info("pending operation will be retried", "id", op.ID, "error", err)
		}
	}
	return result
}

func replayKey(op queue.Operation) string {
	return string(op.Kind) + "\x00" + op.ResourceURL + "\x00" + op.Payload.Key()
}

// carryVersion lets an operation queued before an earlier one was confirmed
// use the version that confirmation produced.
func carryVersion(op queue.Operation, v resource.Version) queue.Operation {
	if v.ETag == "" && v.Href == "" {
		return op
	}
	switch {
	case op.Payload.Event != nil:
		ev := confirmEvent(*op.Payload.Event, v)
		op.Payload.Event = &ev
	case op.Payload.Contact != nil:
		c := confirmContact(*op.Payload.Contact, v)
		op.Payload.Contact = &c
	}
	return op
}

// replay issues the remote call for op against a minimal collection stub.
func (e *Engine) replay(ctx context.Context, op queue.Operation) (resource.Version, error) {
	switch op.Kind {
	case resource.KindEvent:
		if op.Payload.Event == nil {
			return resource.Version{}, fmt.Errorf("operation %s has no event payload", op.ID)
		}
		cal := resource.Stub(resource.KindCalendar, op.ResourceURL)
		ev := *op.Payload.Event
		switch op.Type {
		case queue.OpCreate:
			return e.client.CreateEvent(ctx, cal, ev)
		case queue.OpUpdate:
			return e.client.UpdateEvent(ctx, cal, ev)
		case queue.OpDelete:
			return resource.Version{}, e.client.DeleteEvent(ctx, cal, ev)
		}

	case resource.KindContact:
		if op.Payload.Contact == nil {
			return resource.Version{}, fmt.Errorf("operation %s has no contact payload", op.ID)
		}
		book := resource.Stub(resource.KindAddressBook, op.ResourceURL)
		c := *op.Payload.Contact
		switch op.Type {
		case queue.OpCreate:
			return e.client.CreateContact(ctx, book, c)
		case queue.OpUpdate:
			return e.client.UpdateContact(ctx, book, c)
		case queue.OpDelete:
			return resource.Version{}, e.client.DeleteContact(ctx, book, c)
		}

	case resource.KindCollection:
		if op.Payload.Collection == nil || op.Payload.Changes == nil {
			return resource.Version{}, fmt.Errorf("operation %s has no collection payload", op.ID)
		}
		if op.Type == queue.OpUpdate {
			col := resource.Stub(op.Payload.Collection.Kind, op.ResourceURL)
			return resource.Version{}, e.client.UpdateCollectionProperties(ctx, col, *op.Payload.Changes)
		}
	}
	return resource.Version{}, fmt.Errorf("cannot replay %s of %s", op.Type, op.Kind)
}

// applyReplayedVersion stores the version a replayed write produced on the
// cached copy of the resource.
func (e *Engine) applyReplayedVersion(op queue.Operation, v resource.Version) {
	unlock := e.locks.Lock(op.ResourceURL)
	defer unlock()

	switch {
	case op.Payload.Event != nil:
		items := e.cachedEvents(op.ResourceURL)
		if ev, ok := find(items, op.Payload.Event.UID, eventKey); ok {
			if err := e.cache.StoreEvents(op.ResourceURL, upsert(items, confirmEvent(ev, v), eventKey), ""); err != nil {
				e.reportStorageError(err)
			}
		}
	case op.Payload.Contact != nil:
		items := e.cachedContacts(op.ResourceURL)
		if c, ok := find(items, op.Payload.Contact.UID, contactKey); ok {
			if err := e.cache.StoreContacts(op.ResourceURL, upsert(items, confirmContact(c, v), contactKey), ""); err != nil {
				e.reportStorageError(err)
			}
		}
	}
}
