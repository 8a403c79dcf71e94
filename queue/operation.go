package queue

import (
	"fmt"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/codec"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/goccy/go-json"
)

// OpType is the mutation a pending operation replays.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Payload carries exactly one of its fields, the one matching the
// operation's Kind. Changes accompanies Collection.
type Payload struct {
	Event      *resource.Event
	Contact    *resource.Contact
	Collection *resource.Collection
	Changes    *resource.CollectionChanges
}

func EventPayload(e resource.Event) Payload {
	return Payload{Event: &e}
}

func ContactPayload(c resource.Contact) Payload {
	return Payload{Contact: &c}
}

func CollectionPayload(c resource.Collection, changes resource.CollectionChanges) Payload {
	return Payload{Collection: &c, Changes: &changes}
}

// Kind returns the kind of the variant that is set, or false when the
// payload is empty or ambiguous.
func (p Payload) Kind() (resource.Kind, bool) {
	var kinds []resource.Kind
	if p.Event != nil {
		kinds = append(kinds, resource.KindEvent)
	}
	if p.Contact != nil {
		kinds = append(kinds, resource.KindContact)
	}
	if p.Collection != nil {
		kinds = append(kinds, resource.KindCollection)
	}
	if len(kinds) != 1 {
		return "", false
	}
	return kinds[0], true
}

// Key identifies the resource the payload targets: the UID for events and
// contacts, the URL for collections.
func (p Payload) Key() string {
	switch {
	case p.Event != nil:
		return p.Event.UID
	case p.Contact != nil:
		return p.Contact.UID
	case p.Collection != nil:
		return p.Collection.URL
	}
	return ""
}

// Operation is a queued mutation awaiting replay. Queued operations are
// replaced by copies, never mutated in place.
type Operation struct {
	ID   string
	Type OpType
	Kind resource.Kind
	// ResourceURL is the URL of the parent collection. For collection
	// operations it is the collection itself.
	ResourceURL string
	Payload     Payload
	Timestamp   time.Time
}

// NewOperation is what callers hand to Enqueue.
type NewOperation struct {
	Type        OpType
	Kind        resource.Kind
	ResourceURL string
	Payload     Payload
}

type payloadRecord struct {
	Event      *codec.Event                `json:"event,omitempty"`
	Contact    *resource.Contact           `json:"contact,omitempty"`
	Collection *resource.Collection        `json:"collection,omitempty"`
	Changes    *resource.CollectionChanges `json:"changes,omitempty"`
}

type operationRecord struct {
	ID          string          `json:"id"`
	Type        OpType          `json:"type"`
	Kind        resource.Kind   `json:"resourceKind"`
	ResourceURL string          `json:"resourceUrl"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   codec.Timestamp `json:"timestamp"`
}

func encodeOperation(op Operation) (operationRecord, error) {
	rec := payloadRecord{
		Contact:    op.Payload.Contact,
		Collection: op.Payload.Collection,
		Changes:    op.Payload.Changes,
	}
	if op.Payload.Event != nil {
		ev := codec.EncodeEvent(*op.Payload.Event)
		rec.Event = &ev
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return operationRecord{}, fmt.Errorf("failed to encode payload of %s: %w", op.ID, err)
	}
	return operationRecord{
		ID:          op.ID,
		Type:        op.Type,
		Kind:        op.Kind,
		ResourceURL: op.ResourceURL,
		Payload:     payload,
		Timestamp:   codec.At(op.Timestamp),
	}, nil
}

func decodeOperation(rec operationRecord) (Operation, error) {
	switch rec.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return Operation{}, fmt.Errorf("unknown operation type %q", rec.Type)
	}
	if rec.ID == "" {
		return Operation{}, fmt.Errorf("operation without id")
	}

	payload, err := decodePayload(rec.Kind, rec.Payload)
	if err != nil {
		return Operation{}, err
	}
	if kind, ok := payload.Kind(); !ok || kind != rec.Kind {
		return Operation{}, fmt.Errorf("payload does not match kind %q", rec.Kind)
	}

	return Operation{
		ID:          rec.ID,
		Type:        rec.Type,
		Kind:        rec.Kind,
		ResourceURL: rec.ResourceURL,
		Payload:     payload,
		Timestamp:   rec.Timestamp.Time,
	}, nil
}

// decodePayload reads the tagged form, falling back to a bare resource
// object as written by older builds.
func decodePayload(kind resource.Kind, raw json.RawMessage) (Payload, error) {
	var rec payloadRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Payload{}, fmt.Errorf("invalid payload: %w", err)
	}

	p := Payload{Contact: rec.Contact, Collection: rec.Collection, Changes: rec.Changes}
	if rec.Event != nil {
		ev := codec.DecodeEvent(*rec.Event)
		p.Event = &ev
	}
	if _, ok := p.Kind(); ok {
		return p, nil
	}

	switch kind {
	case resource.KindEvent:
		var ev codec.Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.UID == "" {
			return Payload{}, fmt.Errorf("invalid event payload")
		}
		return EventPayload(codec.DecodeEvent(ev)), nil
	case resource.KindContact:
		var ct resource.Contact
		if err := json.Unmarshal(raw, &ct); err != nil || ct.UID == "" {
			return Payload{}, fmt.Errorf("invalid contact payload")
		}
		return ContactPayload(ct), nil
	case resource.KindCollection:
		var col resource.Collection
		if err := json.Unmarshal(raw, &col); err != nil || col.URL == "" {
			return Payload{}, fmt.Errorf("invalid collection payload")
		}
		return CollectionPayload(col, resource.CollectionChanges{
			DisplayName: &col.DisplayName,
		}), nil
	}
	return Payload{}, fmt.Errorf("unknown resource kind %q", kind)
}
