// Package store defines the persistent key-value contract the cache and the
// pending-operation queue are built on.
package store

import "errors"

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("key not found")

// Store is a durable string key-value store. Implementations must survive
// process restarts; they may fail at any call (quota exceeded, storage
// disabled), and callers are expected to degrade rather than crash.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Lister is implemented by stores that can enumerate keys by prefix.
type Lister interface {
	Keys(prefix string) ([]string, error)
}
