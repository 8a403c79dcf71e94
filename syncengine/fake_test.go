package syncengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cyp0633/libcaldora-sync/network"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/cyp0633/libcaldora-sync/store/memory"
	"github.com/stretchr/testify/require"
)

type call struct {
	Op   string
	URL  string
	UID  string
	ETag string
}

// fakeClient is an in-memory DAV server. Failures are programmed per
// operation name through fail.
type fakeClient struct {
	mu sync.Mutex

	calendars    []resource.Collection
	addressBooks []resource.Collection
	events       map[string][]resource.Event
	contacts     map[string][]resource.Contact

	calls []call
	seq   int

	// fail returns the error for an operation, or nil.
	fail func(op, uid string) error
	// during runs inside each write call, before it completes.
	during func(op string)
	// discoverGate, when set, blocks discovery until closed.
	discoverGate    chan struct{}
	discoverStarted chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:   make(map[string][]resource.Event),
		contacts: make(map[string][]resource.Contact),
	}
}

func (f *fakeClient) record(op, url, uid, etag string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{Op: op, URL: url, UID: uid, ETag: etag})
	fail, during := f.fail, f.during
	f.mu.Unlock()

	if during != nil {
		during(op)
	}
	if fail != nil {
		return fail(op, uid)
	}
	return nil
}

func (f *fakeClient) Calls(ops ...string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(ops) == 0 {
		return append([]call(nil), f.calls...)
	}
	var out []call
	for _, c := range f.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
			}
		}
	}
	return out
}

func (f *fakeClient) nextVersion(url, uid string) resource.Version {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return resource.Version{Href: url + uid, ETag: fmt.Sprintf(`"v%d"`, f.seq)}
}

func (f *fakeClient) DiscoverCollections(ctx context.Context, kind resource.CollectionKind) ([]resource.Collection, error) {
	if f.discoverGate != nil {
		if kind == resource.KindCalendar && f.discoverStarted != nil {
			close(f.discoverStarted)
		}
		select {
		case <-f.discoverGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.record("Discover", string(kind), "", ""); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == resource.KindCalendar {
		return append([]resource.Collection(nil), f.calendars...), nil
	}
	return append([]resource.Collection(nil), f.addressBooks...), nil
}

func (f *fakeClient) FetchEvents(_ context.Context, cal resource.Collection, _ *resource.DateRange) ([]resource.Event, error) {
	if err := f.record("FetchEvents", cal.URL, "", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resource.Event(nil), f.events[cal.URL]...), nil
}

func (f *fakeClient) FetchContacts(_ context.Context, book resource.Collection) ([]resource.Contact, error) {
	if err := f.record("FetchContacts", book.URL, "", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resource.Contact(nil), f.contacts[book.URL]...), nil
}

func (f *fakeClient) CreateEvent(_ context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error) {
	if err := f.record("CreateEvent", cal.URL, ev.UID, ev.ETag); err != nil {
		return resource.Version{}, err
	}
	return f.nextVersion(cal.URL, ev.UID), nil
}

func (f *fakeClient) UpdateEvent(_ context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error) {
	if err := f.record("UpdateEvent", cal.URL, ev.UID, ev.ETag); err != nil {
		return resource.Version{}, err
	}
	return f.nextVersion(cal.URL, ev.UID), nil
}

func (f *fakeClient) DeleteEvent(_ context.Context, cal resource.Collection, ev resource.Event) error {
	return f.record("DeleteEvent", cal.URL, ev.UID, ev.ETag)
}

func (f *fakeClient) CreateContact(_ context.Context, book resource.Collection, c resource.Contact) (resource.Version, error) {
	if err := f.record("CreateContact", book.URL, c.UID, c.ETag); err != nil {
		return resource.Version{}, err
	}
	return f.nextVersion(book.URL, c.UID), nil
}

func (f *fakeClient) UpdateContact(_ context.Context, book resource.Collection, c resource.Contact) (resource.Version, error) {
	if err := f.record("UpdateContact", book.URL, c.UID, c.ETag); err != nil {
		return resource.Version{}, err
	}
	return f.nextVersion(book.URL, c.UID), nil
}

func (f *fakeClient) DeleteContact(_ context.Context, book resource.Collection, c resource.Contact) error {
	return f.record("DeleteContact", book.URL, c.UID, c.ETag)
}

func (f *fakeClient) UpdateCollectionProperties(_ context.Context, col resource.Collection, _ resource.CollectionChanges) error {
	return f.record("UpdateCollection", col.URL, "", "")
}

var _ ResourceClient = (*fakeClient)(nil)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine  *Engine
	client  *fakeClient
	store   *memory.Store
	monitor *network.Monitor
	clock   *clock
}

var (
	work     = resource.Collection{URL: "/cal/work/", Kind: resource.KindCalendar, DisplayName: "Work"}
	personal = resource.Collection{URL: "/card/personal/", Kind: resource.KindAddressBook, DisplayName: "Personal"}
)

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	h := &harness{
		client:  newFakeClient(),
		store:   memory.New(),
		monitor: network.New(online),
		clock:   &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.client.calendars = []resource.Collection{work}
	h.client.addressBooks = []resource.Collection{personal}
	h.engine = h.newEngine(t)
	return h
}

// newEngine builds another engine over the same store, as after a restart.
func (h *harness) newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{
		Client:  h.client,
		Store:   h.store,
		Monitor: h.monitor,
		Clock:   h.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func (h *harness) cachedEvents(t *testing.T) []resource.Event {
	t.Helper()
	entry, ok := h.engine.Cache().LastKnownEvents(work.URL).Get()
	if !ok {
		return nil
	}
	return entry.Items
}
