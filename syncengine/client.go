package syncengine

import (
	"context"

	"github.com/cyp0633/libcaldora-sync/network"
	"github.com/cyp0633/libcaldora-sync/resource"
)

// ResourceClient is the remote DAV capability the engine drives. Writes that
// hit a version mismatch must return an error matching resource.ErrConflict
// (usually a *resource.ConflictError). Timeouts are the client's business.
type ResourceClient interface {
	DiscoverCollections(ctx context.Context, kind resource.CollectionKind) ([]resource.Collection, error)

	// FetchEvents returns the events of cal. A nil window means all events.
	FetchEvents(ctx context.Context, cal resource.Collection, window *resource.DateRange) ([]resource.Event, error)
	FetchContacts(ctx context.Context, book resource.Collection) ([]resource.Contact, error)

	CreateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error)
	UpdateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error)
	DeleteEvent(ctx context.Context, cal resource.Collection, ev resource.Event) error

	CreateContact(ctx context.Context, book resource.Collection, c resource.Contact) (resource.Version, error)
	UpdateContact(ctx context.Context, book resource.Collection, c resource.Contact) (resource.Version, error)
	DeleteContact(ctx context.Context, book resource.Collection, c resource.Contact) error

	UpdateCollectionProperties(ctx context.Context, col resource.Collection, changes resource.CollectionChanges) error
}

// Monitor is the connectivity source. *network.Monitor implements it.
type Monitor interface {
	Online() bool
	Subscribe(fn func(network.Transition)) func()
}

var _ Monitor = (*network.Monitor)(nil)
