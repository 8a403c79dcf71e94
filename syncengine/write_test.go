package syncengine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/libcaldora-sync/queue"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOfflineCreate(t *testing.T) {
	h := newHarness(t, false)
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	ev, err := h.engine.CreateEvent(context.Background(), work, resource.Event{
		UID: "e1", Summary: "Standup", Start: start, End: start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, work.URL, ev.CalendarURL)

	cached := h.cachedEvents(t)
	require.Len(t, cached, 1)
	assert.Equal(t, "e1", cached[0].UID)
	assert.Equal(t, work.URL, cached[0].CalendarURL)

	ops := h.engine.Queue().List()
	require.Len(t, ops, 1)
	assert.Equal(t, queue.OpCreate, ops[0].Type)
	assert.Equal(t, resource.KindEvent, ops[0].Kind)
	assert.Equal(t, work.URL, ops[0].ResourceURL)
	assert.Equal(t, ev, *ops[0].Payload.Event)

	assert.Empty(t, h.client.Calls(), "no remote call while offline")
}

func TestCreateAssignsUID(t *testing.T) {
	h := newHarness(t, false)

	ev, err := h.engine.CreateEvent(context.Background(), work, resource.Event{Summary: "No UID"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.UID)

	c, err := h.engine.CreateContact(context.Background(), personal, resource.Contact{FullName: "Ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.UID)
	assert.Equal(t, personal.URL, c.AddressBookURL)
}

func TestOnlineCreateConfirms(t *testing.T) {
	h := newHarness(t, true)

	ev, err := h.engine.CreateEvent(context.Background(), work, resource.Event{UID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, ev.ETag)
	assert.Equal(t, "/cal/work/e1", ev.Href)

	cached := h.cachedEvents(t)
	require.Len(t, cached, 1)
	assert.Equal(t, `"v1"`, cached[0].ETag, "confirmed etag is stored")
	assert.Zero(t, h.engine.Queue().Len())
}

func TestCacheUpdatedBeforeRemoteResolves(t *testing.T) {
	h := newHarness(t, true)

	var seen []string
	h.client.during = func(op string) {
		var uids []string
		for _, ev := range h.cachedEvents(t) {
			uids = append(uids, ev.UID+":"+ev.Summary)
		}
		seen = append(seen, op+"="+strings.Join(uids, ","))
	}

	ctx := context.Background()
	_, err := h.engine.CreateEvent(ctx, work, resource.Event{UID: "e1", Summary: "a"})
	require.NoError(t, err)
	_, err = h.engine.UpdateEvent(ctx, work, resource.Event{UID: "e1", Summary: "b", ETag: `"v1"`})
	require.NoError(t, err)
	require.NoError(t, h.engine.DeleteEvent(ctx, work, resource.Event{UID: "e1", ETag: `"v2"`}))

	assert.Equal(t, []string{"CreateEvent=e1:a", "UpdateEvent=e1:b", "DeleteEvent="}, seen)
}

func TestTransientFailureQueues(t *testing.T) {
	tests := []struct {
		name string
		run  func(h *harness) error
		op   string
		typ  queue.OpType
		kind resource.Kind
	}{
		{
			name: "create event",
			run: func(h *harness) error {
				_, err := h.engine.CreateEvent(context.Background(), work, resource.Event{UID: "e1"})
				return err
			},
			op: "CreateEvent", typ: queue.OpCreate, kind: resource.KindEvent,
		},
		{
			name: "update contact",
			run: func(h *harness) error {
				_, err := h.engine.UpdateContact(context.Background(), personal, resource.Contact{UID: "c1", ETag: `"v1"`})
				return err
			},
			op: "UpdateContact", typ: queue.OpUpdate, kind: resource.KindContact,
		},
		{
			name: "delete event",
			run: func(h *harness) error {
				return h.engine.DeleteEvent(context.Background(), work, resource.Event{UID: "e1", ETag: `"v1"`})
			},
			op: "DeleteEvent", typ: queue.OpDelete, kind: resource.KindEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			h.client.fail = func(string, string) error { return errors.New("503 service unavailable") }

			require.NoError(t, tt.run(h), "transient errors never reach the caller")

			assert.Len(t, h.client.Calls(tt.op), 1)
			ops := h.engine.Queue().List()
			require.Len(t, ops, 1)
			assert.Equal(t, tt.typ, ops[0].Type)
			assert.Equal(t, tt.kind, ops[0].Kind)
		})
	}
}

func TestMissingETag(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.UpdateEvent(ctx, work, resource.Event{UID: "e2", Summary: "X"})
	assert.ErrorIs(t, err, resource.ErrMissingETag)

	err = h.engine.DeleteContact(ctx, personal, resource.Contact{UID: "c2"})
	assert.ErrorIs(t, err, resource.ErrMissingETag)

	assert.Empty(t, h.cachedEvents(t), "no cache mutation")
	assert.Zero(t, h.engine.Queue().Len(), "no queue entry")
	assert.Empty(t, h.client.Calls())
}

func TestUpdateOfQueuedCreateNeedsNoETag(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.engine.CreateEvent(ctx, work, resource.Event{UID: "e1", Summary: "Standup"})
	require.NoError(t, err)
	_, err = h.engine.UpdateEvent(ctx, work, resource.Event{UID: "e1", Summary: "Standup (moved)"})
	require.NoError(t, err)

	assert.Equal(t, 2, h.engine.Queue().Len())
	require.Len(t, h.cachedEvents(t), 1)
	assert.Equal(t, "Standup (moved)", h.cachedEvents(t)[0].Summary)
}

func TestWriteBehindQueuedOperationIsQueued(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.engine.CreateEvent(ctx, work, resource.Event{UID: "e1"})
	require.NoError(t, err)

	h.engine.unsubscribe() // keep the online transition from replaying
	h.monitor.SetOnline(true)

	_, err = h.engine.UpdateEvent(ctx, work, resource.Event{UID: "e1", Summary: "later"})
	require.NoError(t, err)

	assert.Empty(t, h.client.Calls("UpdateEvent"), "update must not overtake the queued create")
	assert.Equal(t, 2, h.engine.Queue().Len())
}

// mockClient is a testify mock of ResourceClient.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) DiscoverCollections(ctx context.Context, kind resource.CollectionKind) ([]resource.Collection, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).([]resource.Collection), args.Error(1)
}

func (m *mockClient) FetchEvents(ctx context.Context, cal resource.Collection, window *resource.DateRange) ([]resource.Event, error) {
	args := m.Called(ctx, cal, window)
	return args.Get(0).([]resource.Event), args.Error(1)
}

func (m *mockClient) FetchContacts(ctx context.Context, book resource.Collection) ([]resource.Contact, error) {
	args := m.Called(ctx, book)
	return args.Get(0).([]resource.Contact), args.Error(1)
}

func (m *mockClient) CreateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error) {
	args := m.Called(ctx, cal, ev)
	return args.Get(0).(resource.Version), args.Error(1)
}

func (m *mockClient) UpdateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error) {
	args := m.Called(ctx, cal, ev)
	return args.Get(0).(resource.Version), args.Error(1)
}

func (m *mockClient) DeleteEvent(ctx context.Context, cal resource.Collection, ev resource.Event) error {
	return m.Called(ctx, cal, ev).Error(0)
}

func (m *mockClient) CreateContact(ctx context.Context, book resource.Collection, c resource.Contact) (resource.Version, error) {
	args := m.Called(ctx, book, c)
	return args.Get(0).(resource.Version), args.Error(1)
}

func (m *mockClient) UpdateContact(ctx context.Context, book resource.Collection, c resource.Contact) (resource.Version, error) {
	args := m.Called(ctx, book, c)
	return args.Get(0).(resource.Version), args.Error(1)
}

func (m *mockClient) DeleteContact(ctx context.Context, book resource.Collection, c resource.Contact) error {
	return m.Called(ctx, book, c).Error(0)
}

func (m *mockClient) UpdateCollectionProperties(ctx context.Context, col resource.Collection, changes resource.CollectionChanges) error {
	return m.Called(ctx, col, changes).Error(0)
}

func TestConflictOnUpdate(t *testing.T) {
	h := newHarness(t, true)
	client := new(mockClient)
	h.engine.client = client

	original := resource.Event{UID: "c1", Summary: "Original", ETag: "v1"}
	require.NoError(t, h.engine.Cache().StoreEvents(work.URL, []resource.Event{original}, ""))

	conflict := &resource.ConflictError{Href: "/cal/work/c1.ics", ETag: "v1"}
	client.On("UpdateEvent", mock.Anything, work, mock.MatchedBy(func(ev resource.Event) bool {
		return ev.UID == "c1" && ev.ETag == "v1"
	})).Return(resource.Version{}, conflict).Once()

	_, err := h.engine.UpdateEvent(context.Background(), work, resource.Event{UID: "c1", Summary: "Edited", ETag: "v1"})

	require.Error(t, err)
	assert.True(t, resource.IsConflict(err))
	var ce *resource.ConflictError
	assert.ErrorAs(t, err, &ce)
	assert.Zero(t, h.engine.Queue().Len(), "conflicts are never queued")

	cached := h.cachedEvents(t)
	require.Len(t, cached, 1)
	assert.Equal(t, "Original", cached[0].Summary, "unconfirmed change is rolled back")
	client.AssertExpectations(t)
}

func TestConflictOnDelete(t *testing.T) {
	h := newHarness(t, true)
	client := new(mockClient)
	h.engine.client = client

	c := resource.Contact{UID: "c1", FullName: "Ada", ETag: "v1"}
	require.NoError(t, h.engine.Cache().StoreContacts(personal.URL, []resource.Contact{c}, ""))
	client.On("DeleteContact", mock.Anything, personal, mock.Anything).
		Return(&resource.ConflictError{ETag: "v1"}).Once()

	err := h.engine.DeleteContact(context.Background(), personal, c)
	assert.ErrorIs(t, err, resource.ErrConflict)
	assert.Zero(t, h.engine.Queue().Len())

	entry, ok := h.engine.Cache().LastKnownContacts(personal.URL).Get()
	require.True(t, ok)
	assert.Len(t, entry.Items, 1, "deleted contact is restored")
	client.AssertExpectations(t)
}

func TestUpdateCollection(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.engine.Cache().StoreCollections(resource.KindCalendar, []resource.Collection{work}))

	name, color := "Office", "#FF9500"
	updated, err := h.engine.UpdateCollection(context.Background(), work, resource.CollectionChanges{DisplayName: &name, Color: &color})
	require.NoError(t, err)
	assert.Equal(t, "Office", updated.DisplayName)

	assert.Equal(t, []resource.Collection{updated}, h.engine.Cache().Collections(resource.KindCalendar))
	ops := h.engine.Queue().List()
	require.Len(t, ops, 1)
	assert.Equal(t, resource.KindCollection, ops[0].Kind)
	assert.Equal(t, work.URL, ops[0].ResourceURL)

	// Discovery does not undo the queued rename before it is replayed.
	h.client.fail = func(op, _ string) error {
		if op == "UpdateCollection" {
			return errors.New("timeout")
		}
		return nil
	}
	h.engine.unsubscribe()
	h.monitor.SetOnline(true)
	_, err = h.engine.FullSync(context.Background(), FullSyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Office", h.engine.Cache().Collections(resource.KindCalendar)[0].DisplayName)

	h.client.fail = nil
	result := h.engine.ProcessPendingOperations(context.Background())
	assert.Equal(t, 1, result.Replayed)
	assert.Len(t, h.client.Calls("UpdateCollection"), 2)
}

func TestStorageFailureSurfacesInStatus(t *testing.T) {
	h := newHarness(t, false)
	h.store.SetFailure(errors.New("quota exceeded"))

	_, err := h.engine.CreateEvent(context.Background(), work, resource.Event{UID: "e1"})
	require.NoError(t, err, "store failures never reach the caller")

	st := h.engine.GetSyncStatus()
	assert.Contains(t, st.StorageError, "quota exceeded")
	assert.Len(t, st.Pending, 1, "in-memory queue still holds the mutation")
}

func TestRefreshDuringRemoteWrite(t *testing.T) {
	tests := []struct {
		name       string
		fail       error
		wantETag   string
		wantQueued int
	}{
		{name: "confirmed", wantETag: `"v1"`},
		{name: "transient failure", fail: errors.New("503 service unavailable"), wantQueued: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			ctx := context.Background()

			refreshed := false
			h.client.during = func(op string) {
				if op != "CreateEvent" || refreshed {
					return
				}
				refreshed = true
				ok, err := h.engine.SyncResourcesForCollection(ctx, resource.KindCalendar, work.URL, true)
				assert.NoError(t, err)
				assert.True(t, ok)
				if cached := h.cachedEvents(t); assert.Len(t, cached, 1, "in-flight create survives the refresh") {
					assert.Equal(t, "e1", cached[0].UID)
				}
			}
			if tt.fail != nil {
				h.client.fail = func(op, _ string) error {
					if op == "CreateEvent" {
						return tt.fail
					}
					return nil
				}
			}

			_, err := h.engine.CreateEvent(ctx, work, resource.Event{UID: "e1"})
			require.NoError(t, err)
			require.True(t, refreshed)

			cached := h.cachedEvents(t)
			require.Len(t, cached, 1)
			assert.Equal(t, tt.wantETag, cached[0].ETag)
			assert.Equal(t, tt.wantQueued, h.engine.Queue().Len())
		})
	}
}

func TestWriteOutlivesCancelledCaller(t *testing.T) {
	h := newHarness(t, true)
	client := new(mockClient)
	h.engine.client = client

	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	client.On("CreateEvent", live, work, mock.Anything).
		Return(resource.Version{ETag: `"v1"`}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev, err := h.engine.CreateEvent(ctx, work, resource.Event{UID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, ev.ETag)
	assert.Zero(t, h.engine.Queue().Len())
	client.AssertExpectations(t)
}
