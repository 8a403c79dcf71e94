package cache

import (
	"bytes"

	"github.com/cyp0633/libcaldora-sync/internal/codec"
	"github.com/goccy/go-json"
	"github.com/samber/mo"
)

// entryRecord is the persisted form of Entry.
type entryRecord[R any] struct {
	Items       []R             `json:"items"`
	LastUpdated codec.Timestamp `json:"lastUpdated"`
	ETag        string          `json:"etag,omitempty"`
}

// readEntry loads and decodes the entry under key. A bare JSON array is
// accepted as a legacy entry with an unknown update time, which only
// last-known readers will serve.
func readEntry[R, T any](c *Cache, key string, decode func(R) T) (Entry[T], bool) {
	raw, ok := c.read(key)
	if !ok {
		return Entry[T]{}, false
	}

	var rec entryRecord[R]
	data := bytes.TrimSpace([]byte(raw))
	var err error
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &rec.Items)
	} else {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return Entry[T]{}, false
	}

	items := make([]T, len(rec.Items))
	for i, r := range rec.Items {
		items[i] = decode(r)
	}
	return Entry[T]{
		Items:       items,
		LastUpdated: rec.LastUpdated.Time,
		ETag:        rec.ETag,
	}, true
}

func freshEntry[T any](c *Cache, opt mo.Option[Entry[T]]) mo.Option[Entry[T]] {
	entry, ok := opt.Get()
	if !ok || !c.IsFresh(entry.LastUpdated) {
		return mo.None[Entry[T]]()
	}
	return opt
}
